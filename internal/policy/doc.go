// Package policy implements the resource policy registry.
//
// The registry stores named ResourcePolicy bundles and per-app permission
// grants. It is the single decision point for "can app X do Y": sandboxes
// consult it before every privileged operation, and it answers closed by
// default. Grants replace rather than merge, and revocation deletes the
// whole grant set.
//
// Decisions carry a TTL derived from the granting policy's timeout so that
// sandbox-side caches expire instead of living forever; explicit
// invalidation hooks fire on every grant change as well.
package policy
