package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pwa-marketplace/backend/internal/bridge"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// lazyClient defers the bridge dial to the first call. The bridge listener
// starts concurrently with the HTTP server, so an eager dial at
// construction time would race it.
type lazyClient struct {
	addr    string
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.Mutex
	client *bridge.Client
	closed bool
}

func newLazyClient(addr string, timeout time.Duration, logger *logging.Logger) *lazyClient {
	return &lazyClient{addr: addr, timeout: timeout, logger: logger}
}

// Call dials on first use and reconnects after a lost connection.
func (l *lazyClient) Call(ctx context.Context, req types.MCPRequest) (types.MCPResponse, error) {
	client, err := l.get()
	if err != nil {
		return types.MCPResponse{}, err
	}

	resp, err := client.Call(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, bridge.ErrConnectionLost) || errors.Is(err, bridge.ErrCorrelationMismatch) {
		l.drop(client)
	}
	return types.MCPResponse{}, err
}

func (l *lazyClient) get() (*bridge.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, bridge.ErrClientClosed
	}
	if l.client != nil {
		return l.client, nil
	}

	client, err := bridge.Connect(l.addr,
		bridge.WithCallTimeout(l.timeout),
		bridge.WithClientLogger(l.logger),
	)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

// drop discards a dead client so the next call redials. Only the exact
// client that failed is dropped; a concurrent redial stays untouched.
func (l *lazyClient) drop(client *bridge.Client) {
	l.mu.Lock()
	if l.client == client {
		_ = l.client.Close()
		l.client = nil
	}
	l.mu.Unlock()
}

func (l *lazyClient) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}
