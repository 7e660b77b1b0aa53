// Package resilience implements the circuit breaker pattern.
//
// The breaker has three states:
//   - Closed: requests flow normally; failures are counted
//   - Open: requests fail immediately with ErrCircuitOpen
//   - HalfOpen: a bounded number of probe requests decide recovery
//
// The MCP bridge client wraps its transport round trips in a breaker so
// that a dead or wedged bridge degrades to fast failures instead of
// blocking every sandbox behind a timeout.
package resilience
