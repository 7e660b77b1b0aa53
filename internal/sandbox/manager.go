package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pwa-marketplace/backend/internal/events"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/shared/id"
	"go.uber.org/zap"
)

// Manager orchestrates sandbox lifecycle. It is the only component that
// creates or destroys sandboxes, and it keeps the registry's invalidation
// hook pointed at the live set.
type Manager struct {
	mu        sync.RWMutex
	sandboxes map[string]*Sandbox // Protected by mu

	registry *policy.Registry
	caller   MCPCaller
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	bus      *events.Bus
}

// NewManager creates a sandbox manager bound to a policy registry. Grant
// and revoke mutations at the registry flush the affected sandbox's
// permission cache.
func NewManager(registry *policy.Registry, logger *logging.Logger) *Manager {
	m := &Manager{
		sandboxes: make(map[string]*Sandbox),
		registry:  registry,
		logger:    logger,
	}
	registry.OnInvalidate(func(appID string) {
		if sb, ok := m.Get(appID); ok {
			sb.InvalidatePermissions()
		}
	})
	return m
}

// WithMetrics adds metrics tracking to the manager.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithCaller sets the bridge client handed to every spawned sandbox.
func (m *Manager) WithCaller(caller MCPCaller) *Manager {
	m.caller = caller
	return m
}

// WithEvents sets the event bus handed to every spawned sandbox.
func (m *Manager) WithEvents(bus *events.Bus) *Manager {
	m.bus = bus
	return m
}

// Spawn creates and starts a sandbox for an app. A missing AppID gets a
// generated one; a duplicate AppID is an error.
func (m *Manager) Spawn(cfg Config) (*Sandbox, error) {
	if cfg.AppID == "" {
		cfg.AppID = id.NewAppID().String()
	}

	sb := New(cfg, m.registry, m.logger)
	if m.caller != nil {
		sb.WithCaller(m.caller)
	}
	if m.metrics != nil {
		sb.WithMetrics(m.metrics)
	}
	if m.bus != nil {
		sb.WithEvents(m.bus)
	}

	m.mu.Lock()
	if _, exists := m.sandboxes[cfg.AppID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("sandbox already exists for app %s", cfg.AppID)
	}
	m.sandboxes[cfg.AppID] = sb
	m.mu.Unlock()

	if err := sb.Start(); err != nil {
		m.mu.Lock()
		delete(m.sandboxes, cfg.AppID)
		m.mu.Unlock()
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.SandboxesActive.Inc()
		m.metrics.SandboxesTotal.Inc()
	}
	m.logger.Info("sandbox spawned",
		zap.String("app_id", cfg.AppID),
		zap.String("name", cfg.Manifest.Name))
	return sb, nil
}

// Get retrieves a sandbox by app ID.
func (m *Manager) Get(appID string) (*Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[appID]
	return sb, ok
}

// List returns snapshots of every live sandbox, ordered by app ID.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, sb.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}

// Close shuts a sandbox down and removes it from the live set.
func (m *Manager) Close(appID string) error {
	m.mu.Lock()
	sb, ok := m.sandboxes[appID]
	if ok {
		delete(m.sandboxes, appID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no sandbox for app %s", appID)
	}
	if err := sb.Shutdown(); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.SandboxesActive.Dec()
	}
	return nil
}

// CloseAll shuts down every live sandbox. Used at server teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		all = append(all, sb)
	}
	m.sandboxes = make(map[string]*Sandbox)
	m.mu.Unlock()

	for _, sb := range all {
		_ = sb.Shutdown()
		if m.metrics != nil {
			m.metrics.SandboxesActive.Dec()
		}
	}
}

// Count returns the number of live sandboxes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sandboxes)
}
