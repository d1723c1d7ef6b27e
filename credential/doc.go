// Package credential owns the bearer token and its absolute expiry.
//
// # Invariants
//
// The (token, expiry) pair is replaced as a unit under one mutex and persisted
// with a single [storage.Backend.SetMulti] call, so no reader ever sees a
// token without its matching expiry. A credential is valid iff the token is
// non-empty and the clock is before the expiry.
//
// Reads through [Store.Token] and [Store.Valid] evict an invalid credential
// as a side effect. [Store.Peek] and [Store.HasToken] never mutate.
//
// # Timers
//
// Every [Store.Set] reschedules a one-shot self-refresh at
// max(MinRefreshDelay, ttl-RefreshLead) and starts the liveness ticker if it
// is not running. Both run on the injected clockwork clock and stop on
// [Store.Clear] and [Store.Close].
//
// # What this package must NOT do
//
//   - Perform network calls. Refresh here only extends the local expiry.
//   - Return storage errors to callers. Persistence failures are logged and
//     the in-memory credential stays authoritative.
package credential
