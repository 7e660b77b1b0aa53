// Package secrets isolates credential handling from the rest of the
// runtime. Components that need a token depend on the Source interface and
// fetch the credential at the moment of use; nothing else ever stores one.
package secrets
