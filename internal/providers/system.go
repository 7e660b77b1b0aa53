package providers

import (
	"context"
	"runtime"
	"time"

	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// System answers runtime information requests: ping, process stats, time.
type System struct {
	startTime time.Time
}

// NewSystem creates a system provider.
func NewSystem() *System {
	return &System{startTime: time.Now()}
}

// Protocol returns the routing name.
func (s *System) Protocol() string { return "system" }

// Execute runs a system action.
func (s *System) Execute(_ context.Context, req types.MCPRequest) types.MCPResponse {
	switch req.Action {
	case "ping":
		return success(map[string]interface{}{"status": "ok"})
	case "info":
		return s.info()
	case "time":
		now := time.Now()
		return success(map[string]interface{}{
			"timestamp": now.Unix(),
			"iso":       now.Format(time.RFC3339),
			"unix_ms":   now.UnixMilli(),
		})
	case "uptime":
		return success(map[string]interface{}{
			"uptime_seconds": time.Since(s.startTime).Seconds(),
		})
	default:
		return failure("unknown action: %s", req.Action)
	}
}

func (s *System) info() types.MCPResponse {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return success(map[string]interface{}{
		"go_version":     runtime.Version(),
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"cpus":           runtime.NumCPU(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_alloc":   m.Alloc / 1024 / 1024,
		"memory_sys":     m.Sys / 1024 / 1024,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}
