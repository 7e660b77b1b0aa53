// Package providers implements the built-in protocol handlers served
// through the bridge: per-app key/value storage and system information.
// Each provider speaks one protocol and is adapted to the bridge's
// byte-level handler contract by AsHandler.
package providers
