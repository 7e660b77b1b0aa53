// Package config loads runtime configuration from the environment and
// optional YAML policy bundles.
//
// Environment variables use envconfig struct tags with sensible defaults,
// so a bare `server` invocation works out of the box. Policy bundles seed
// the policy registry at startup; they are plain data and never executed.
package config
