package sandbox

import (
	"strings"
	"testing"

	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSpawnAndGet(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	sb, err := m.Spawn(Config{AppID: "app_1", Manifest: Manifest{Name: "notes"}})
	require.NoError(t, err)
	assert.Equal(t, StateReady, sb.State())

	got, ok := m.Get("app_1")
	require.True(t, ok)
	assert.Same(t, sb, got)
	assert.Equal(t, 1, m.Count())
}

func TestManagerGeneratesAppID(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	sb, err := m.Spawn(Config{Manifest: Manifest{Name: "anon"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sb.AppID(), "app_"))
}

func TestManagerRejectsDuplicateAppID(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	_, err := m.Spawn(Config{AppID: "app_1"})
	require.NoError(t, err)
	_, err = m.Spawn(Config{AppID: "app_1"})
	assert.Error(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestManagerClose(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	sb, err := m.Spawn(Config{AppID: "app_1"})
	require.NoError(t, err)

	require.NoError(t, m.Close("app_1"))
	assert.Equal(t, StateClosed, sb.State())
	_, ok := m.Get("app_1")
	assert.False(t, ok)

	assert.Error(t, m.Close("app_1"))
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	first, err := m.Spawn(Config{AppID: "app_1"})
	require.NoError(t, err)
	second, err := m.Spawn(Config{AppID: "app_2"})
	require.NoError(t, err)

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, StateClosed, second.State())
}

func TestManagerList(t *testing.T) {
	m := NewManager(newTestRegistry(), logging.NewNop())

	_, err := m.Spawn(Config{AppID: "app_b", Manifest: Manifest{Name: "beta"}})
	require.NoError(t, err)
	_, err = m.Spawn(Config{AppID: "app_a", Manifest: Manifest{Name: "alpha"}})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "app_a", infos[0].AppID)
	assert.Equal(t, "app_b", infos[1].AppID)
	assert.Equal(t, "ready", infos[0].State)
}

func TestRevokeFlushesSandboxCache(t *testing.T) {
	reg := newTestRegistry()
	m := NewManager(reg, logging.NewNop())

	reg.GrantPermissions("app_1", []string{"network.basic"})
	sb, err := m.Spawn(Config{
		AppID:    "app_1",
		Manifest: Manifest{Permissions: []string{"network.basic"}},
	})
	require.NoError(t, err)

	allowed, err := sb.RequestPermission("network.basic")
	require.NoError(t, err)
	require.True(t, allowed)

	// Revocation at the registry reaches the sandbox through the
	// invalidation hook, so the cached allow does not linger.
	reg.RevokePermissions("app_1")
	allowed, err = sb.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGrantFlushesStaleDenials(t *testing.T) {
	reg := newTestRegistry()
	m := NewManager(reg, logging.NewNop())

	sb, err := m.Spawn(Config{
		AppID:    "app_1",
		Manifest: Manifest{Permissions: []string{"network.basic"}},
	})
	require.NoError(t, err)

	allowed, err := sb.RequestPermission("network.basic")
	require.NoError(t, err)
	require.False(t, allowed)

	reg.GrantPermissions("app_1", []string{"network.basic"})
	allowed, err = sb.RequestPermission("network.basic")
	require.NoError(t, err)
	assert.True(t, allowed)
}
