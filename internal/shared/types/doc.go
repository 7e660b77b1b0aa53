// Package types provides shared data structures for the marketplace runtime.
//
// This package defines the value objects that cross component boundaries,
// ensuring no shared mutable state travels between the sandbox and the
// bridge except as serialized messages.
//
// Core Types:
//   - ResourcePolicy: Named permission bundle with restrictions and timeout
//   - MCPRequest, MCPResponse: Wire-level request/response pair
//   - ResourceRequest, ResourceResponse: Policy registry gate values
//   - Result: Standard protocol handler result
package types
