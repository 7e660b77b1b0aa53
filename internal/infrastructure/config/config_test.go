package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Bridge.Address)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Policy.CacheTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("BRIDGE_ADDR", "127.0.0.1:7777")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:7777", cfg.Bridge.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParsePolicies(t *testing.T) {
	data := []byte(`
policies:
  - name: net-basic
    description: Basic network access
    permissions: [network]
    restrictions: [no-raw-sockets]
    timeout: 30s
  - name: storage-full
    permissions: [storage, storage-write]
`)

	policies, err := ParsePolicies(data)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	assert.Equal(t, "net-basic", policies[0].Name)
	assert.Equal(t, []string{"network"}, policies[0].Permissions)
	assert.Equal(t, 30*time.Second, policies[0].Timeout)

	assert.Equal(t, "storage-full", policies[1].Name)
	assert.Zero(t, policies[1].Timeout)
}

func TestParsePoliciesRejectsUnnamed(t *testing.T) {
	_, err := ParsePolicies([]byte("policies:\n  - description: nameless\n"))
	assert.Error(t, err)
}

func TestParsePoliciesRejectsBadTimeout(t *testing.T) {
	_, err := ParsePolicies([]byte("policies:\n  - name: x\n    timeout: banana\n"))
	assert.Error(t, err)
}
