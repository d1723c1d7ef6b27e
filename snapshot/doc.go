// Package snapshot keeps a short-lived copy of the session in session-scoped
// storage so a reload can recover without repeating work, and runs that
// recovery single-flight.
//
// # Architecture boundaries
//
// A [Recovery] reads the credential through [Credentials] and drives the
// session controller through [Controller]. It never writes the credential
// storage itself; adopting a snapshot goes through the controller.
//
// # What this package must NOT do
//
//   - Trust a snapshot that is stale or structurally invalid.
//   - Start a second restore while one is in flight.
//   - Let a panic or error from the controller escape a restore.
package snapshot
