package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwa-marketplace/backend/internal/shared/types"
)

func startTCPBridge(t *testing.T) (*Bridge, string) {
	t.Helper()
	b := New(nil).WithGracePeriod(time.Second)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go b.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})
	return b, ln.Addr().String()
}

func TestClientCall(t *testing.T) {
	b, addr := startTCPBridge(t)
	b.RegisterProtocol("storage", echoHandler{})

	client, err := Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(context.Background(), types.MCPRequest{
		AppID:    "app1",
		Protocol: "storage",
		Action:   "get",
		Data:     map[string]interface{}{"key": "k"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "get", resp.Data["action"])
	assert.Equal(t, "k", resp.Data["key"])
}

func TestClientConcurrentCallsDoNotInterleave(t *testing.T) {
	b, addr := startTCPBridge(t)
	b.RegisterProtocol("storage", echoHandler{delay: 20 * time.Millisecond})

	client, err := Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			marker := fmt.Sprintf("caller-%d", n)
			resp, err := client.Call(context.Background(), types.MCPRequest{
				Protocol: "storage",
				Action:   "echo",
				Data:     map[string]interface{}{"marker": marker},
			})
			if err != nil {
				errs <- err
				return
			}
			// Each caller must receive exactly its own response.
			if resp.Data["marker"] != marker {
				errs <- fmt.Errorf("got response for %v, wanted %s", resp.Data["marker"], marker)
				return
			}
			errs <- nil
		}(i)
	}
	wg.Wait()

	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestClientTimeoutAbandonsConnection(t *testing.T) {
	b, addr := startTCPBridge(t)
	b.RegisterProtocol("slow", echoHandler{delay: time.Second})

	client, err := Connect(addr, WithCallTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), types.MCPRequest{Protocol: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)

	// The stale response must never reach a later caller: the connection
	// is gone and the client says so.
	_, err = client.Call(context.Background(), types.MCPRequest{Protocol: "slow"})
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestClientContextDeadline(t *testing.T) {
	b, addr := startTCPBridge(t)
	b.RegisterProtocol("slow", echoHandler{delay: time.Second})

	client, err := Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Call(ctx, types.MCPRequest{Protocol: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientClosed(t *testing.T) {
	b, addr := startTCPBridge(t)
	b.RegisterProtocol("storage", echoHandler{})

	client, err := Connect(addr)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close()) // idempotent

	_, err = client.Call(context.Background(), types.MCPRequest{Protocol: "storage"})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClientConnectRefused(t *testing.T) {
	_, err := Connect("127.0.0.1:1") // nothing listens here
	assert.ErrorIs(t, err, ErrConnectionLost)
}
