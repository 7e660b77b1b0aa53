// Package http implements the REST endpoints for policy management,
// sandbox lifecycle and operations, bridge statistics, and credential
// validation.
package http
