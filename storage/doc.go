// Package storage provides the key/value backends that hold the persisted
// credential and the session snapshot.
//
// # Backends
//
//   - [Memory]: process-local map, the default for tests and ephemeral hosts.
//   - [File]: a single JSON document on disk, rewritten atomically.
//   - [Redis]: keys under a prefix in any go-redis UniversalClient.
//   - [SQLite]: a kv table in a modernc.org/sqlite database.
//
// Every backend implements [Backend]. SetMulti is all-or-nothing so callers
// can persist a token together with its expiry and never observe one without
// the other.
//
// # What this package must NOT do
//
//   - Interpret the values it stores.
//   - Import authkeeper or any component package (no upward imports).
package storage
