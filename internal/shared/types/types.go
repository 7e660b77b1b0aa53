package types

import "time"

// ResourcePolicy is a named bundle of permissions applicable to any app.
// Re-registering a policy under the same name overwrites it.
type ResourcePolicy struct {
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description" yaml:"description"`
	Permissions  []string      `json:"permissions" yaml:"permissions"`
	Restrictions []string      `json:"restrictions" yaml:"restrictions"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// MCPRequest is the only value a sandbox may hand to the bridge.
type MCPRequest struct {
	AppID    string                 `json:"app_id"`
	Protocol string                 `json:"protocol"`
	Action   string                 `json:"action"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// MCPResponse is the typed result of an MCP round trip.
type MCPResponse struct {
	Success bool                   `json:"success"`
	Error   *string                `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// ResourceRequest asks the policy registry to gate access to a resource.
type ResourceRequest struct {
	AppID    string                 `json:"app_id"`
	Resource string                 `json:"resource"`
	Action   string                 `json:"action"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// ResourceResponse carries the gate decision. Denials are responses, not
// errors: an app attempting a denied action always receives a structured
// {success: false, error: "Permission denied: <resource>"} value.
type ResourceResponse struct {
	Success bool                   `json:"success"`
	Error   *string                `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Result represents a protocol handler execution result.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *string                `json:"error,omitempty"`
}

// Denied builds a denial response in the canonical shape. Callers cannot
// distinguish a static capability denial from a registry denial.
func Denied(resource string) ResourceResponse {
	msg := "Permission denied: " + resource
	return ResourceResponse{Success: false, Error: &msg}
}

// OkResponse builds a successful MCP response.
func OkResponse(data map[string]interface{}) MCPResponse {
	return MCPResponse{Success: true, Data: data}
}

// ErrResponse builds a failed MCP response.
func ErrResponse(msg string) MCPResponse {
	return MCPResponse{Success: false, Error: &msg}
}
