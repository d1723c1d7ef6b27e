// Package rate provides the in-process fixed-window limiter used to debounce
// user-facing notices and other per-key side effects.
//
// # Window semantics
//
// Fixed windows per key: the first hit opens a window of the configured length
// and up to MaxHits hits are admitted inside it. Keys carry their own window
// length when an override is configured.
//
// # What this package must NOT do
//
//   - Decide which keys exist (callers own the key space).
//   - Be imported outside the authkeeper module.
package rate
