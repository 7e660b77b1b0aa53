package http

import (
	"github.com/pwa-marketplace/backend/internal/bridge"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/sandbox"
	"github.com/pwa-marketplace/backend/internal/secrets"
)

// Handlers bundles the HTTP endpoint implementations. Every dependency is
// injected; nothing here reaches for globals.
type Handlers struct {
	registry  *policy.Registry
	sandboxes *sandbox.Manager
	bridge    *bridge.Bridge
	validator *secrets.GitHubValidator
	logger    *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(registry *policy.Registry, sandboxes *sandbox.Manager, logger *logging.Logger) *Handlers {
	return &Handlers{
		registry:  registry,
		sandboxes: sandboxes,
		logger:    logger,
	}
}

// WithBridge exposes bridge statistics endpoints.
func (h *Handlers) WithBridge(b *bridge.Bridge) *Handlers {
	h.bridge = b
	return h
}

// WithValidator exposes the GitHub token validation endpoint.
func (h *Handlers) WithValidator(v *secrets.GitHubValidator) *Handlers {
	h.validator = v
	return h
}
