// Package monitoring provides Prometheus metrics for the runtime.
//
// Metrics cover the three core subsystems: policy decisions (checks,
// denials, applies), sandbox population, and bridge traffic (connections,
// dispatch latency, handler faults), plus the HTTP/WS surfaces. Each
// Metrics value owns an isolated registry so independent server instances
// can coexist in tests without duplicate-registration panics.
package monitoring
