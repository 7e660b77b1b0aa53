package providers

import (
	"context"
	"testing"

	"github.com/pwa-marketplace/backend/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPing(t *testing.T) {
	s := NewSystem()
	resp := s.Execute(context.Background(), types.MCPRequest{Protocol: "system", Action: "ping"})
	require.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data["status"])
}

func TestSystemInfo(t *testing.T) {
	s := NewSystem()
	resp := s.Execute(context.Background(), types.MCPRequest{Protocol: "system", Action: "info"})
	require.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data["go_version"])
	assert.NotEmpty(t, resp.Data["os"])
}

func TestSystemTime(t *testing.T) {
	s := NewSystem()
	resp := s.Execute(context.Background(), types.MCPRequest{Protocol: "system", Action: "time"})
	require.True(t, resp.Success)
	assert.NotZero(t, resp.Data["timestamp"])
}

func TestSystemUnknownAction(t *testing.T) {
	s := NewSystem()
	resp := s.Execute(context.Background(), types.MCPRequest{Protocol: "system", Action: "nope"})
	assert.False(t, resp.Success)
}
