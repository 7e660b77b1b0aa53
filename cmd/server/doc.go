// Package main is the entry point for the PWA marketplace runtime.
//
// The runtime mediates access by untrusted web apps to host resources:
// a policy registry decides what an app may do, per-app sandboxes enforce
// those decisions at the point of use, and a protocol bridge carries
// structured requests to out-of-process service providers.
//
// The server provides:
//   - REST API for policy, permission, and sandbox management
//   - MCP bridge (TCP) for structured app-to-service requests
//   - WebSocket event stream for runtime telemetry
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -bridge 127.0.0.1:9090
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
