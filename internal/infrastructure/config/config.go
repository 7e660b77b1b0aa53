package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Policy    PolicyConfig
	GitHub    GitHubConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// BridgeConfig holds MCP bridge configuration.
type BridgeConfig struct {
	Address     string        `envconfig:"BRIDGE_ADDR" default:"127.0.0.1:9090"`
	Enabled     bool          `envconfig:"BRIDGE_ENABLED" default:"true"`
	GracePeriod time.Duration `envconfig:"BRIDGE_GRACE_PERIOD" default:"5s"`
	CallTimeout time.Duration `envconfig:"BRIDGE_CALL_TIMEOUT" default:"30s"`
}

// PolicyConfig holds policy registry configuration.
type PolicyConfig struct {
	// File is an optional path to a YAML policy bundle loaded at startup.
	File string `envconfig:"POLICY_FILE" default:""`
	// CacheTTL bounds sandbox-side permission cache entries for grants
	// that did not originate from a policy with its own timeout.
	CacheTTL time.Duration `envconfig:"POLICY_CACHE_TTL" default:"30s"`
}

// GitHubConfig holds the token source configuration for outbound calls.
type GitHubConfig struct {
	TokenEnv string `envconfig:"GITHUB_TOKEN_ENV" default:"GITHUB_TOKEN"`
	APIBase  string `envconfig:"GITHUB_API_BASE" default:"https://api.github.com"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Bridge: BridgeConfig{
			Address:     "127.0.0.1:9090",
			Enabled:     true,
			GracePeriod: 5 * time.Second,
			CallTimeout: 30 * time.Second,
		},
		Policy: PolicyConfig{
			CacheTTL: 30 * time.Second,
		},
		GitHub: GitHubConfig{
			TokenEnv: "GITHUB_TOKEN",
			APIBase:  "https://api.github.com",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
