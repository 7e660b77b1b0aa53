// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// All runtime components emit structured events through this package:
// policy denials, bridge connection lifecycle, handler faults, sandbox
// state transitions. No component owns log storage.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Bridge listening", zap.String("addr", addr))
//	logger.Warn("Permission denied", zap.String("app_id", appID))
package logging
