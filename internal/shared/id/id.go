// Package id provides centralized ID generation for the runtime.
//
// ULIDs are used for every string-typed identifier in the system:
//   - Lexicographic sortability: Enables time-ordered queries over logs
//   - Prefixed types: Type-specific prefixes for debugging (app_*, req_*)
//   - Type safety: Separate types prevent ID misuse
//
// Bridge connection identifiers are deliberately NOT ULIDs: the bridge
// hands out a bare monotonically increasing counter so that "never reused,
// strictly increasing" is provable by construction.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AppID identifies a running app instance
type AppID string

// RequestID identifies an API request
type RequestID string

// SandboxID identifies a sandbox instance
type SandboxID string

const (
	AppPrefix     = "app"
	RequestPrefix = "req"
	SandboxPrefix = "sbx"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewAppID generates a new application ID
func NewAppID() AppID {
	return AppID(Default().GenerateWithPrefix(AppPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSandboxID generates a new sandbox ID
func NewSandboxID() SandboxID {
	return SandboxID(Default().GenerateWithPrefix(SandboxPrefix))
}

func (id AppID) String() string     { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id SandboxID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
