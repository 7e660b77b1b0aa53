// Package sandbox provides the per-app enforcement boundary.
//
// Each running app gets exactly one Sandbox, which owns all app-local
// state (current URL, storage, notifications, cached permission decisions)
// and funnels every privileged operation through the policy registry before
// execution. Structured remote requests go through a bridge client; no
// mutable state ever crosses that boundary except as serialized messages.
//
// A Manager tracks the live set and keeps sandbox permission caches
// coherent with registry grant mutations.
package sandbox
