package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/resilience"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

var (
	// ErrTimeout is returned when a round trip exceeds its deadline. The
	// connection is abandoned: a late response must never be delivered to
	// the next caller.
	ErrTimeout = errors.New("request timed out")
	// ErrConnectionLost is returned when the transport is gone.
	ErrConnectionLost = errors.New("connection lost")
	// ErrCorrelationMismatch indicates a response that does not belong to
	// the outstanding request. The stream state is unknown, so the
	// connection is dropped.
	ErrCorrelationMismatch = errors.New("response correlation mismatch")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client is closed")
)

// DefaultCallTimeout bounds a round trip when the caller's context has no
// deadline of its own.
const DefaultCallTimeout = 30 * time.Second

// Client is the sandbox-side bridge endpoint: one outbound connection,
// one in-flight request at a time.
//
// Concurrent Call invocations queue on an internal mutex rather than
// interleaving frames; each response is additionally matched to its
// request by correlation ID. A mismatch or timeout poisons the
// connection, and callers must establish a new client.
type Client struct {
	addr    string
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *logging.Logger

	mu     sync.Mutex // serializes round trips; protects conn and closed
	conn   net.Conn
	closed bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout sets the per-call fallback timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connect dials the bridge at addr.
func Connect(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr:    addr,
		timeout: DefaultCallTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = resilience.New("mcp-bridge", resilience.Settings{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	c.conn = conn

	c.logger.Info("Connected to bridge", zap.String("addr", addr))
	return c, nil
}

// Call performs one MCP round trip. The deadline is the earlier of the
// context deadline and the configured call timeout.
func (c *Client) Call(ctx context.Context, req types.MCPRequest) (types.MCPResponse, error) {
	env := NewRequestEnvelope(req)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, env)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return types.MCPResponse{}, fmt.Errorf("%w: bridge circuit open", ErrConnectionLost)
		}
		return types.MCPResponse{}, err
	}

	return result.(types.MCPResponse), nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) roundTrip(ctx context.Context, env RequestEnvelope) (types.MCPResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.MCPResponse{}, ErrClientClosed
	}
	if c.conn == nil {
		return types.MCPResponse{}, ErrConnectionLost
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return types.MCPResponse{}, c.poison(err)
	}

	if err := WriteFrame(c.conn, env); err != nil {
		if errors.Is(err, ErrSerialization) || errors.Is(err, ErrFrameTooLarge) {
			// Nothing hit the wire; the connection is still clean.
			return types.MCPResponse{}, err
		}
		return types.MCPResponse{}, c.poison(err)
	}

	var resp ResponseEnvelope
	if err := ReadFrame(c.conn, &resp); err != nil {
		return types.MCPResponse{}, c.poison(err)
	}

	if resp.ID != env.ID {
		c.logger.Error("Correlation mismatch",
			zap.String("expected", env.ID),
			zap.String("got", resp.ID),
		)
		c.dropConn()
		return types.MCPResponse{}, ErrCorrelationMismatch
	}

	return resp.MCPResponse, nil
}

// poison maps a transport error and abandons the connection: after a
// timeout the peer may still write the stale response, which would
// otherwise be read by the next caller.
func (c *Client) poison(err error) error {
	c.dropConn()

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// dropConn must be called with mu held.
func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
