package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// Frame layout: 4-byte big-endian payload length, 1 flag byte, payload.
// The payload is a sonic-encoded JSON envelope; payloads above
// compressThreshold are DEFLATE-compressed with flagCompressed set.
const (
	headerSize        = 5
	maxFrameSize      = 10 << 20 // matches the transport message limits used elsewhere
	compressThreshold = 4 << 10

	flagCompressed byte = 1 << 0
)

var (
	// ErrSerialization covers encode/decode failures of envelopes.
	ErrSerialization = errors.New("serialization error")
	// ErrFrameTooLarge is returned for frames exceeding maxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// RequestEnvelope is the wire form of an MCP request. The correlation ID
// lets the client match responses to requests instead of trusting arrival
// order.
type RequestEnvelope struct {
	ID string `json:"id"`
	types.MCPRequest
}

// ResponseEnvelope is the wire form of an MCP response, echoing the
// request's correlation ID.
type ResponseEnvelope struct {
	ID string `json:"id"`
	types.MCPResponse
}

// NewRequestEnvelope wraps a request with a fresh correlation ID.
func NewRequestEnvelope(req types.MCPRequest) RequestEnvelope {
	return RequestEnvelope{ID: uuid.NewString(), MCPRequest: req}
}

// EncodeRequestEnvelope serializes a request envelope for dispatch.
func EncodeRequestEnvelope(env RequestEnvelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeRequest parses a request envelope from handler payload bytes.
func DecodeRequest(payload []byte) (RequestEnvelope, error) {
	var env RequestEnvelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return env, nil
}

// EncodeResponse serializes an MCP response for return from a handler.
func EncodeResponse(resp types.MCPResponse) ([]byte, error) {
	data, err := sonic.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeResponse parses handler output bytes back into an MCP response.
func DecodeResponse(payload []byte) (types.MCPResponse, error) {
	var resp types.MCPResponse
	if err := sonic.Unmarshal(payload, &resp); err != nil {
		return types.MCPResponse{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return resp, nil
}

// WriteFrame encodes v and writes it as a single length-prefixed frame.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var flags byte
	if len(payload) > compressThreshold {
		compressed, err := deflate(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		// Incompressible payloads stay raw
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flags

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads a single frame and decodes it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	if header[4]&flagCompressed != 0 {
		raw, err := inflate(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		payload = raw
	}

	if err := sonic.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(io.LimitReader(fr, maxFrameSize+1))
}
