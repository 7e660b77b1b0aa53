package sandbox

import "time"

// Capabilities are the static, construction-time flags gating whole classes
// of operations. They are distinct from dynamic permissions: a capability is
// decided when the sandbox is built and never changes afterwards.
type Capabilities struct {
	Network       bool `json:"network"`
	Storage       bool `json:"storage"`
	Notifications bool `json:"notifications"`
	System        bool `json:"system"`
	MCP           bool `json:"mcp"`
}

// Manifest is the app's declared surface: the permissions it may ever ask
// for and the capabilities it was installed with. Permissions not listed
// here are denied without consulting the policy registry.
type Manifest struct {
	Name         string       `json:"name"`
	Permissions  []string     `json:"permissions"`
	Capabilities Capabilities `json:"capabilities"`
}

// Config configures a single sandbox instance.
type Config struct {
	AppID       string
	Manifest    Manifest
	CallTimeout time.Duration
}

// Info is a read-only snapshot of a sandbox for listings and diagnostics.
type Info struct {
	AppID         string       `json:"app_id"`
	Name          string       `json:"name"`
	State         string       `json:"state"`
	URL           string       `json:"url,omitempty"`
	Capabilities  Capabilities `json:"capabilities"`
	Notifications int          `json:"notifications"`
	StorageKeys   int          `json:"storage_keys"`
	CreatedAt     time.Time    `json:"created_at"`
}
