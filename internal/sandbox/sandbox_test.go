package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls int
	last  types.MCPRequest
	resp  types.MCPResponse
	err   error
}

func (f *fakeCaller) Call(_ context.Context, req types.MCPRequest) (types.MCPResponse, error) {
	f.calls++
	f.last = req
	return f.resp, f.err
}

func newTestRegistry() *policy.Registry {
	return policy.NewRegistry(logging.NewNop())
}

func newReadySandbox(t *testing.T, reg *policy.Registry, manifest Manifest) *Sandbox {
	t.Helper()
	sb := New(Config{AppID: "app_test", Manifest: manifest}, reg, logging.NewNop())
	require.NoError(t, sb.Start())
	return sb
}

func TestStartIsIdempotent(t *testing.T) {
	sb := New(Config{AppID: "app_1"}, newTestRegistry(), logging.NewNop())

	assert.Equal(t, StateUninitialized, sb.State())
	require.NoError(t, sb.Start())
	require.NoError(t, sb.Start())
	assert.Equal(t, StateReady, sb.State())
}

func TestStartRequiresAppID(t *testing.T) {
	sb := New(Config{}, newTestRegistry(), logging.NewNop())
	assert.Error(t, sb.Start())
}

func TestOperationsBeforeStart(t *testing.T) {
	sb := New(Config{AppID: "app_1"}, newTestRegistry(), logging.NewNop())

	assert.ErrorIs(t, sb.LoadURL("https://example.com"), ErrNotStarted)
	assert.ErrorIs(t, sb.StoreData("k", "v"), ErrNotStarted)
	_, _, err := sb.GetData("k")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = sb.RequestPermission("network.basic")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestLoadURL(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{})

	require.NoError(t, sb.LoadURL("https://example.com/app"))
	url, ok := sb.CurrentURL()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/app", url)

	// Invalid inputs must not disturb the current URL.
	for _, raw := range []string{"not a url", "ftp://example.com", "https://", ""} {
		err := sb.LoadURL(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, "input %q", raw)
	}
	url, ok = sb.CurrentURL()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/app", url)
}

func TestStorageDisabled(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{})

	assert.ErrorIs(t, sb.StoreData("k", "v"), ErrStoragePermissionDenied)
	value, ok, err := sb.GetData("k")
	assert.ErrorIs(t, err, ErrStoragePermissionDenied)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestStorageLastWriteWins(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{Storage: true},
	})

	require.NoError(t, sb.StoreData("k", "first"))
	require.NoError(t, sb.StoreData("k", "second"))

	value, ok, err := sb.GetData("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", value)

	_, ok, err = sb.GetData("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotifications(t *testing.T) {
	denied := newReadySandbox(t, newTestRegistry(), Manifest{})
	assert.ErrorIs(t, denied.SendNotification("nope"), ErrNotificationPermissionDenied)
	assert.Empty(t, denied.Notifications())

	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{Notifications: true},
	})
	require.NoError(t, sb.SendNotification("one"))
	require.NoError(t, sb.SendNotification("two"))
	assert.Equal(t, []string{"one", "two"}, sb.Notifications())
}

func TestPermissionUndeclaredShortCircuits(t *testing.T) {
	reg := newTestRegistry()
	// Even a registry grant cannot help an undeclared permission.
	reg.GrantPermissions("app_test", []string{"network.basic"})

	sb := newReadySandbox(t, reg, Manifest{})
	allowed, err := sb.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPermissionGrantedAndCached(t *testing.T) {
	reg := newTestRegistry()
	reg.GrantPermissions("app_test", []string{"network.basic"})

	sb := newReadySandbox(t, reg, Manifest{Permissions: []string{"network.basic"}})

	allowed, err := sb.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.True(t, allowed)

	// A revoke without cache invalidation leaves the cached allow in
	// place; the manager pairs the two via the registry hook.
	reg2 := newTestRegistry()
	reg2.GrantPermissions("app_test", []string{"network.basic"})
	sb2 := newReadySandbox(t, reg2, Manifest{Permissions: []string{"network.basic"}})
	allowed, err = sb2.RequestPermission("network.basic")
	require.NoError(t, err)
	require.True(t, allowed)

	reg2.RevokePermissions("app_test")
	allowed, err = sb2.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.True(t, allowed, "cached decision survives until invalidated")

	sb2.InvalidatePermissions()
	allowed, err = sb2.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPermissionCacheTTLExpires(t *testing.T) {
	reg := newTestRegistry()
	reg.RegisterPolicy(types.ResourcePolicy{
		Name:        "net-short",
		Permissions: []string{"network.basic"},
		Timeout:     20 * time.Millisecond,
	})
	require.NoError(t, reg.ApplyPolicy("app_test", "net-short"))

	sb := newReadySandbox(t, reg, Manifest{Permissions: []string{"network.basic"}})

	allowed, err := sb.RequestPermission("network.basic")
	require.NoError(t, err)
	require.True(t, allowed)

	reg.RevokePermissions("app_test")
	// Hook-free sandbox: the cached allow holds until the TTL lapses.
	time.Sleep(40 * time.Millisecond)

	allowed, err = sb.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.False(t, allowed, "expired cache entry must re-consult the registry")
}

func TestMCPRequest(t *testing.T) {
	noCap := newReadySandbox(t, newTestRegistry(), Manifest{})
	_, err := noCap.MCPRequest(context.Background(), "storage", "get", nil)
	assert.ErrorIs(t, err, ErrMCPPermissionDenied)

	noBridge := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{MCP: true},
	})
	_, err = noBridge.MCPRequest(context.Background(), "storage", "get", nil)
	assert.ErrorIs(t, err, ErrBridgeUnavailable)

	caller := &fakeCaller{resp: types.OkResponse(map[string]interface{}{"value": "v"})}
	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{MCP: true},
	}).WithCaller(caller)

	resp, err := sb.MCPRequest(context.Background(), "storage", "get", map[string]interface{}{"key": "k"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "app_test", caller.last.AppID)
	assert.Equal(t, "storage", caller.last.Protocol)
	assert.Equal(t, "get", caller.last.Action)
}

func TestMCPRequestPropagatesTransportFailure(t *testing.T) {
	wantErr := errors.New("connection lost")
	caller := &fakeCaller{err: wantErr}
	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{MCP: true},
	}).WithCaller(caller)

	_, err := sb.MCPRequest(context.Background(), "storage", "get", nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestShutdownIsTerminal(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{Storage: true, Notifications: true, MCP: true},
	})
	require.NoError(t, sb.StoreData("k", "v"))

	require.NoError(t, sb.Shutdown())
	assert.Equal(t, StateClosed, sb.State())

	assert.ErrorIs(t, sb.LoadURL("https://example.com"), ErrSandboxClosed)
	assert.ErrorIs(t, sb.StoreData("k", "v"), ErrSandboxClosed)
	_, _, err := sb.GetData("k")
	assert.ErrorIs(t, err, ErrSandboxClosed)
	assert.ErrorIs(t, sb.SendNotification("m"), ErrSandboxClosed)
	_, err = sb.RequestPermission("network.basic")
	assert.ErrorIs(t, err, ErrSandboxClosed)
	_, err = sb.MCPRequest(context.Background(), "storage", "get", nil)
	assert.ErrorIs(t, err, ErrSandboxClosed)

	assert.ErrorIs(t, sb.Start(), ErrSandboxClosed)
	require.NoError(t, sb.Shutdown())
}

func TestShutdownDuringOperations(t *testing.T) {
	// Operations racing Shutdown must fail cleanly, never panic on the
	// released state. Run many fresh sandboxes so Shutdown lands at
	// different points inside in-flight operations.
	reg := newTestRegistry()
	reg.GrantPermissions("app_test", []string{"network.basic"})

	for i := 0; i < 200; i++ {
		sb := newReadySandbox(t, reg, Manifest{
			Permissions:  []string{"network.basic"},
			Capabilities: Capabilities{Storage: true, Notifications: true},
		})

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					if err := sb.StoreData("k", "v"); err != nil {
						assert.ErrorIs(t, err, ErrSandboxClosed)
					}
					if _, _, err := sb.GetData("k"); err != nil {
						assert.ErrorIs(t, err, ErrSandboxClosed)
					}
					if _, err := sb.RequestPermission("network.basic"); err != nil {
						assert.ErrorIs(t, err, ErrSandboxClosed)
					}
					if err := sb.SendNotification("n"); err != nil {
						assert.ErrorIs(t, err, ErrSandboxClosed)
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sb.Shutdown())
		}()
		wg.Wait()

		assert.Equal(t, StateClosed, sb.State())
	}
}

func TestInvalidateAfterShutdownIsNoop(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{})
	require.NoError(t, sb.Shutdown())
	sb.InvalidatePermissions()
	assert.Equal(t, StateClosed, sb.State())
}

func TestConcurrentStorageAccess(t *testing.T) {
	sb := newReadySandbox(t, newTestRegistry(), Manifest{
		Capabilities: Capabilities{Storage: true},
	})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = sb.StoreData("shared", "value")
				_, _, _ = sb.GetData("shared")
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	value, ok, err := sb.GetData("shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", value)
}
