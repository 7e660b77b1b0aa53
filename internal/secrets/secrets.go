package secrets

import (
	"context"
	"os"
	"sync"
)

// Source supplies credentials for outbound calls. The sandbox and bridge
// never hold secrets themselves; anything that needs a token asks a Source
// at the moment of use.
type Source interface {
	// Token returns the credential and whether one is available.
	Token(ctx context.Context) (string, bool)
}

// EnvSource reads the token from an environment variable on every call, so
// rotation does not require a restart.
type EnvSource struct {
	name string
}

// NewEnvSource creates a source backed by the named environment variable.
func NewEnvSource(name string) *EnvSource {
	return &EnvSource{name: name}
}

// Token reads the variable. Empty values count as absent.
func (s *EnvSource) Token(_ context.Context) (string, bool) {
	value := os.Getenv(s.name)
	return value, value != ""
}

// StaticSource holds a fixed token. Used in tests and for injected
// credentials.
type StaticSource struct {
	mu    sync.RWMutex
	token string
}

// NewStaticSource creates a source with a fixed token. An empty token means
// no credential.
func NewStaticSource(token string) *StaticSource {
	return &StaticSource{token: token}
}

// Token returns the stored value.
func (s *StaticSource) Token(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the stored token.
func (s *StaticSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
