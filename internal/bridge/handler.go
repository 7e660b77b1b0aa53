package bridge

import "context"

// Handler transforms an inbound payload into an outbound payload for one
// protocol. Implementations must be safe for concurrent use: the bridge
// invokes them from many connection goroutines at once.
//
// The payload is the request envelope bytes; the return value must decode
// as a types.MCPResponse. A returned error (or a panic) is converted by
// the bridge into a failed response for that one request only.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
