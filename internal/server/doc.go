// Package server assembles the marketplace runtime: configuration, policy
// registry, sandbox manager, protocol bridge, event stream, and the HTTP
// API, with a graceful shutdown path through all of them.
package server
