package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// ErrBridgeClosed is returned when operations are attempted after Shutdown.
var ErrBridgeClosed = errors.New("bridge is shut down")

// DefaultGracePeriod bounds how long Shutdown waits for in-flight
// connection loops before force-closing their transports.
const DefaultGracePeriod = 5 * time.Second

// Stats is a point-in-time snapshot of bridge state.
type Stats struct {
	Protocols       []string `json:"protocols"`
	LiveConnections int      `json:"live_connections"`
	TotalAccepted   uint64   `json:"total_accepted"`
}

// Bridge multiplexes MCP requests from sandboxes to registered protocol
// handlers over a byte-stream transport.
//
// Connection identifiers are allocated from a single atomic counter and
// are therefore strictly increasing and never reused for the lifetime of
// the bridge. Each accepted connection runs its own read/dispatch/write
// loop; a failure there tears down only that connection.
type Bridge struct {
	handlers sync.Map // protocol name -> Handler

	connMu sync.Mutex
	conns  map[uint64]net.Conn
	nextID atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	listener net.Listener
	wg       sync.WaitGroup
	grace    time.Duration

	logger  *logging.Logger
	metrics *monitoring.Metrics
	onEvent func(event string, connID uint64)
}

// New creates a bridge. It accepts nothing until Serve is called.
func New(logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conns:  make(map[uint64]net.Conn),
		ctx:    ctx,
		cancel: cancel,
		grace:  DefaultGracePeriod,
		logger: logger,
	}
}

// WithMetrics adds metrics tracking to the bridge.
func (b *Bridge) WithMetrics(metrics *monitoring.Metrics) *Bridge {
	b.metrics = metrics
	return b
}

// WithGracePeriod overrides the shutdown grace period.
func (b *Bridge) WithGracePeriod(d time.Duration) *Bridge {
	if d > 0 {
		b.grace = d
	}
	return b
}

// WithEventHook registers a callback observing connection lifecycle
// ("connection_opened", "connection_closed"). Used to feed the event bus.
func (b *Bridge) WithEventHook(fn func(event string, connID uint64)) *Bridge {
	b.onEvent = fn
	return b
}

// RegisterProtocol associates a protocol name with a handler. Re-using a
// name overwrites silently: last registration wins. In-flight dispatches
// hold the handler value they already resolved, so an overwrite never
// swaps a handler mid-call.
func (b *Bridge) RegisterProtocol(name string, handler Handler) {
	b.handlers.Store(name, handler)
	b.logger.Info("Protocol registered", zap.String("protocol", name))
}

// Protocols returns the names of all registered protocols.
func (b *Bridge) Protocols() []string {
	var names []string
	b.handlers.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

// ListenAndServe binds a TCP listener on addr and serves it.
func (b *Bridge) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen failed: %w", err)
	}
	return b.Serve(ln)
}

// Serve runs the accept loop until Shutdown. Each accepted connection
// gets a fresh identifier and an independent goroutine.
func (b *Bridge) Serve(ln net.Listener) error {
	if b.ctx.Err() != nil {
		return ErrBridgeClosed
	}

	b.connMu.Lock()
	b.listener = ln
	b.connMu.Unlock()

	b.logger.Info("Bridge listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("bridge accept failed: %w", err)
		}

		id := b.nextID.Add(1)
		b.connMu.Lock()
		b.conns[id] = conn
		b.connMu.Unlock()

		if b.metrics != nil {
			b.metrics.BridgeConnections.Inc()
			b.metrics.BridgeConnectionsTotal.Inc()
		}
		b.notify("connection_opened", id)
		b.logger.Debug("Connection accepted",
			zap.Uint64("conn_id", id),
			zap.String("remote", conn.RemoteAddr().String()),
		)

		b.wg.Add(1)
		go b.serveConn(id, conn)
	}
}

// NextConnectionID reports the identifier the next accepted connection
// would receive.
func (b *Bridge) NextConnectionID() uint64 {
	return b.nextID.Load() + 1
}

// Stats returns a snapshot of bridge state.
func (b *Bridge) Stats() Stats {
	b.connMu.Lock()
	live := len(b.conns)
	b.connMu.Unlock()

	return Stats{
		Protocols:       b.Protocols(),
		LiveConnections: live,
		TotalAccepted:   b.nextID.Load(),
	}
}

// Shutdown stops accepting, then waits up to the grace period for live
// connection loops to drain before force-closing their transports. No new
// connections are accepted after this returns and outstanding responses
// either complete or are abandoned with their connections.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.cancel()

	b.connMu.Lock()
	if b.listener != nil {
		b.listener.Close()
	}
	b.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(b.grace):
	case <-ctx.Done():
	}

	// Grace expired: unblock remaining reads by closing transports.
	b.connMu.Lock()
	for _, conn := range b.conns {
		conn.Close()
	}
	b.connMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveConn runs the per-connection read/dispatch/write loop.
func (b *Bridge) serveConn(id uint64, conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		conn.Close()
		b.connMu.Lock()
		delete(b.conns, id)
		b.connMu.Unlock()

		if b.metrics != nil {
			b.metrics.BridgeConnections.Dec()
		}
		b.notify("connection_closed", id)
		b.logger.Debug("Connection closed", zap.Uint64("conn_id", id))
	}()

	for {
		var env RequestEnvelope
		if err := ReadFrame(conn, &env); err != nil {
			// EOF and transport errors end only this connection.
			if b.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				b.logger.Debug("Connection read ended",
					zap.Uint64("conn_id", id),
					zap.Error(err),
				)
			}
			return
		}

		resp := b.dispatch(env)
		if err := WriteFrame(conn, resp); err != nil {
			b.logger.Warn("Response write failed",
				zap.Uint64("conn_id", id),
				zap.Error(err),
			)
			return
		}

		if b.ctx.Err() != nil {
			return
		}
	}
}

// dispatch routes one request to its protocol handler. Routing is by the
// protocol field of the envelope; an unknown protocol or a faulting
// handler degrades to a failed response for this request only.
func (b *Bridge) dispatch(env RequestEnvelope) ResponseEnvelope {
	start := time.Now()

	val, ok := b.handlers.Load(env.Protocol)
	if !ok {
		b.logger.Warn("Unknown protocol",
			zap.String("protocol", env.Protocol),
			zap.String("app_id", env.AppID),
		)
		return ResponseEnvelope{
			ID:          env.ID,
			MCPResponse: types.ErrResponse(fmt.Sprintf("unknown protocol: %s", env.Protocol)),
		}
	}
	handler := val.(Handler)

	payload, err := EncodeRequestEnvelope(env)
	if err != nil {
		return ResponseEnvelope{ID: env.ID, MCPResponse: types.ErrResponse("serialization error")}
	}

	out, err := b.invoke(handler, env.Protocol, payload)
	if b.metrics != nil {
		b.metrics.RecordDispatch(env.Protocol, time.Since(start))
	}
	if err != nil {
		return ResponseEnvelope{ID: env.ID, MCPResponse: types.ErrResponse(err.Error())}
	}

	resp, err := DecodeResponse(out)
	if err != nil {
		b.countFault(env.Protocol, "bad_output")
		return ResponseEnvelope{ID: env.ID, MCPResponse: types.ErrResponse("handler returned malformed response")}
	}

	return ResponseEnvelope{ID: env.ID, MCPResponse: resp}
}

// invoke runs a handler with panic isolation. A misbehaving handler must
// not take down the dispatch loop or other connections.
func (b *Bridge) invoke(handler Handler, protocol string, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.countFault(protocol, "panic")
			b.logger.Error("Handler panic",
				zap.String("protocol", protocol),
				zap.Any("panic", r),
			)
			out = nil
			err = fmt.Errorf("handler fault: %v", r)
		}
	}()

	out, err = handler.Handle(b.ctx, payload)
	if err != nil {
		b.countFault(protocol, "error")
	}
	return out, err
}

func (b *Bridge) countFault(protocol, kind string) {
	if b.metrics != nil {
		b.metrics.BridgeHandlerFaults.WithLabelValues(protocol, kind).Inc()
	}
}

func (b *Bridge) notify(event string, connID uint64) {
	if b.onEvent != nil {
		b.onEvent(event, connID)
	}
}
