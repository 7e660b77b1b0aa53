package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pwa-marketplace/backend/internal/events"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/shared/types"
	"go.uber.org/zap"
)

// State is the sandbox lifecycle stage. Transitions are one-way:
// Uninitialized -> Ready -> ShuttingDown -> Closed.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotStarted is returned by operations invoked before Start.
	ErrNotStarted = errors.New("sandbox not started")
	// ErrSandboxClosed is returned by every operation after Shutdown.
	ErrSandboxClosed = errors.New("sandbox closed")
	// ErrInvalidURL is returned by LoadURL on unparseable or non-web URLs.
	ErrInvalidURL = errors.New("invalid url")
	// ErrStoragePermissionDenied gates StoreData and GetData.
	ErrStoragePermissionDenied = errors.New("storage permission denied")
	// ErrNotificationPermissionDenied gates SendNotification.
	ErrNotificationPermissionDenied = errors.New("notification permission denied")
	// ErrMCPPermissionDenied gates MCPRequest.
	ErrMCPPermissionDenied = errors.New("mcp permission denied")
	// ErrBridgeUnavailable means the MCP capability is set but no bridge
	// client was wired in.
	ErrBridgeUnavailable = errors.New("bridge unavailable")
)

// MCPCaller issues a structured request and waits for its response. The
// bridge client satisfies this; tests substitute fakes.
type MCPCaller interface {
	Call(ctx context.Context, req types.MCPRequest) (types.MCPResponse, error)
}

// cachedDecision is a previously-confirmed allow with its expiry.
type cachedDecision struct {
	expires time.Time
}

// Sandbox is the per-app enforcement boundary. It owns all app-local state
// exclusively; nothing in here is ever shared with another sandbox.
type Sandbox struct {
	appID    string
	manifest Manifest
	declared map[string]struct{}

	registry *policy.Registry
	caller   MCPCaller
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	bus      *events.Bus

	state atomic.Int32

	mu            sync.Mutex
	currentURL    *url.URL
	storage       map[string]string
	notifications []string
	permCache     map[string]cachedDecision

	createdAt time.Time
}

// New builds a sandbox in the Uninitialized state. No resources are held
// until Start succeeds.
func New(cfg Config, registry *policy.Registry, logger *logging.Logger) *Sandbox {
	declared := make(map[string]struct{}, len(cfg.Manifest.Permissions))
	for _, p := range cfg.Manifest.Permissions {
		declared[p] = struct{}{}
	}
	return &Sandbox{
		appID:     cfg.AppID,
		manifest:  cfg.Manifest,
		declared:  declared,
		registry:  registry,
		logger:    logger,
		createdAt: time.Now(),
	}
}

// WithCaller wires the bridge client used by MCPRequest.
func (s *Sandbox) WithCaller(caller MCPCaller) *Sandbox {
	s.caller = caller
	return s
}

// WithMetrics adds metrics tracking.
func (s *Sandbox) WithMetrics(metrics *monitoring.Metrics) *Sandbox {
	s.metrics = metrics
	return s
}

// WithEvents wires the event bus for lifecycle and notification events.
func (s *Sandbox) WithEvents(bus *events.Bus) *Sandbox {
	s.bus = bus
	return s
}

// AppID returns the owning app's identifier.
func (s *Sandbox) AppID() string { return s.appID }

// State returns the current lifecycle stage.
func (s *Sandbox) State() State { return State(s.state.Load()) }

// Start initializes the sandbox. It is idempotent while Ready and fails
// permanently once shutdown has begun.
func (s *Sandbox) Start() error {
	if s.appID == "" {
		return errors.New("sandbox requires an app id")
	}
	for {
		switch State(s.state.Load()) {
		case StateReady:
			return nil
		case StateShuttingDown, StateClosed:
			return ErrSandboxClosed
		}
		if s.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady)) {
			break
		}
	}

	s.mu.Lock()
	s.storage = make(map[string]string)
	s.notifications = nil
	s.permCache = make(map[string]cachedDecision)
	s.mu.Unlock()

	s.logger.Info("sandbox started",
		zap.String("app_id", s.appID),
		zap.String("name", s.manifest.Name))
	s.publishLifecycle("started")
	return nil
}

// guard rejects operations outside the Ready state.
func (s *Sandbox) guard() error {
	switch State(s.state.Load()) {
	case StateReady:
		return nil
	case StateUninitialized:
		return ErrNotStarted
	default:
		return ErrSandboxClosed
	}
}

// lockReady acquires s.mu and verifies the sandbox is still Ready. A bare
// guard check is not enough before touching locked state: Shutdown can
// slip in between the check and the lock and release the maps, so the
// state must be re-read under the same lock that protects them. Callers
// must unlock s.mu on the nil-error path.
func (s *Sandbox) lockReady() error {
	s.mu.Lock()
	if err := s.guard(); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

// LoadURL parses and validates a web URL and records it as the sandbox's
// current location. State is untouched on failure.
func (s *Sandbox) LoadURL(raw string) error {
	if err := s.guard(); err != nil {
		return err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	if err := s.lockReady(); err != nil {
		return err
	}
	s.currentURL = parsed
	s.mu.Unlock()

	s.logger.Debug("url loaded", zap.String("app_id", s.appID), zap.String("url", parsed.String()))
	return nil
}

// CurrentURL returns the last successfully loaded URL, if any.
func (s *Sandbox) CurrentURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentURL == nil {
		return "", false
	}
	return s.currentURL.String(), true
}

// RequestPermission checks whether the app currently holds a permission.
// Permissions absent from the manifest are denied outright. Allowed
// decisions are cached until the registry-supplied TTL elapses; revocation
// clears the cache through InvalidatePermissions.
func (s *Sandbox) RequestPermission(permission string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if _, declared := s.declared[permission]; !declared {
		// Undeclared permissions never reach the registry, so the denial
		// is counted here.
		if s.metrics != nil {
			s.metrics.PermissionDenials.Inc()
		}
		s.denied(permission)
		return false, nil
	}

	now := time.Now()
	if err := s.lockReady(); err != nil {
		return false, err
	}
	if entry, ok := s.permCache[permission]; ok {
		if now.Before(entry.expires) {
			s.mu.Unlock()
			return true, nil
		}
		delete(s.permCache, permission)
	}
	s.mu.Unlock()

	decision := s.registry.Check(s.appID, permission)
	if !decision.Allowed {
		s.denied(permission)
		return false, nil
	}

	ttl := decision.TTL
	if ttl <= 0 {
		ttl = policy.DefaultCacheTTL
	}
	if err := s.lockReady(); err != nil {
		return false, err
	}
	s.permCache[permission] = cachedDecision{expires: now.Add(ttl)}
	s.mu.Unlock()
	return true, nil
}

// InvalidatePermissions drops every cached permission decision. Called by
// the manager when the registry mutates this app's grants. A no-op once
// shutdown has begun: the cache is already gone.
func (s *Sandbox) InvalidatePermissions() {
	s.mu.Lock()
	if State(s.state.Load()) == StateReady {
		s.permCache = make(map[string]cachedDecision)
	}
	s.mu.Unlock()
	s.logger.Debug("permission cache invalidated", zap.String("app_id", s.appID))
}

// StoreData writes a key into the sandbox-local store. Last write wins.
func (s *Sandbox) StoreData(key, value string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !s.manifest.Capabilities.Storage {
		return ErrStoragePermissionDenied
	}
	if err := s.lockReady(); err != nil {
		return err
	}
	s.storage[key] = value
	s.mu.Unlock()
	return nil
}

// GetData reads a key from the sandbox-local store.
func (s *Sandbox) GetData(key string) (string, bool, error) {
	if err := s.guard(); err != nil {
		return "", false, err
	}
	if !s.manifest.Capabilities.Storage {
		return "", false, ErrStoragePermissionDenied
	}
	if err := s.lockReady(); err != nil {
		return "", false, err
	}
	value, ok := s.storage[key]
	s.mu.Unlock()
	return value, ok, nil
}

// SendNotification records a notification for the app. Delivery beyond
// "recorded" is not guaranteed.
func (s *Sandbox) SendNotification(message string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !s.manifest.Capabilities.Notifications {
		return ErrNotificationPermissionDenied
	}
	if err := s.lockReady(); err != nil {
		return err
	}
	s.notifications = append(s.notifications, message)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:    events.TypeNotification,
			AppID:   s.appID,
			Message: message,
		})
	}
	return nil
}

// Notifications returns a copy of everything the app has emitted so far.
func (s *Sandbox) Notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// MCPRequest issues a structured request through the bridge and waits for
// the matching response. Transport failures propagate unchanged so callers
// can distinguish timeouts from lost connections.
func (s *Sandbox) MCPRequest(ctx context.Context, protocol, action string, data map[string]interface{}) (types.MCPResponse, error) {
	if err := s.guard(); err != nil {
		return types.MCPResponse{}, err
	}
	if !s.manifest.Capabilities.MCP {
		return types.MCPResponse{}, ErrMCPPermissionDenied
	}
	if s.caller == nil {
		return types.MCPResponse{}, ErrBridgeUnavailable
	}

	req := types.MCPRequest{
		AppID:    s.appID,
		Protocol: protocol,
		Action:   action,
		Data:     data,
	}
	resp, err := s.caller.Call(ctx, req)
	if err != nil {
		s.logger.Warn("mcp request failed",
			zap.String("app_id", s.appID),
			zap.String("protocol", protocol),
			zap.String("action", action),
			zap.Error(err))
		return types.MCPResponse{}, err
	}
	return resp, nil
}

// Shutdown releases the sandbox's state and moves it to the terminal Closed
// state. Every subsequent operation fails. Calling Shutdown again is a
// no-op.
func (s *Sandbox) Shutdown() error {
	for {
		current := State(s.state.Load())
		if current == StateClosed || current == StateShuttingDown {
			return nil
		}
		if s.state.CompareAndSwap(int32(current), int32(StateShuttingDown)) {
			break
		}
	}

	s.mu.Lock()
	s.currentURL = nil
	s.storage = nil
	s.notifications = nil
	s.permCache = nil
	s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	s.logger.Info("sandbox closed", zap.String("app_id", s.appID))
	s.publishLifecycle("closed")
	return nil
}

// Info snapshots the sandbox for listings.
func (s *Sandbox) Info() Info {
	s.mu.Lock()
	current := ""
	if s.currentURL != nil {
		current = s.currentURL.String()
	}
	notifications := len(s.notifications)
	keys := len(s.storage)
	s.mu.Unlock()

	return Info{
		AppID:         s.appID,
		Name:          s.manifest.Name,
		State:         s.State().String(),
		URL:           current,
		Capabilities:  s.manifest.Capabilities,
		Notifications: notifications,
		StorageKeys:   keys,
		CreatedAt:     s.createdAt,
	}
}

func (s *Sandbox) denied(permission string) {
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:  events.TypePermissionDenied,
			AppID: s.appID,
			Data:  map[string]interface{}{"permission": permission},
		})
	}
}

func (s *Sandbox) publishLifecycle(stage string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:    events.TypeSandboxLifecycle,
		AppID:   s.appID,
		Message: stage,
	})
}
