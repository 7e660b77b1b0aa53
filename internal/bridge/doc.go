// Package bridge implements the MCP protocol bridge: a transport-agnostic
// request/response multiplexer between sandboxes and out-of-process
// protocol handlers.
//
// Server side, the Bridge accepts connections from a net.Listener, gives
// each a strictly increasing identifier, and runs an independent
// read/dispatch/write loop per connection. Messages are routed to the
// handler registered under the envelope's protocol name; handler panics
// and errors degrade to a failed response for that one request.
//
// Client side, Client performs correlated single-in-flight round trips
// with a caller-bounded timeout and a circuit breaker in front of the
// transport.
//
// Wire format: length-prefixed frames carrying sonic-encoded JSON
// envelopes, DEFLATE-compressed above a size threshold. The envelope
// adds a correlation ID to the MCPRequest/MCPResponse pair so responses
// are matched by identity, never by arrival order.
package bridge
