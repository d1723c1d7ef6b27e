// Package internal groups helpers that are private to authkeeper.
//
// # Sub-packages
//
//   - cli: cobra commands and YAML configuration for cmd/authkeeper
//   - logging: slog constructors shared by the binaries
//   - rate: clock-driven fixed-window limiter used by the notice gate
//
// # What this package must NOT do
//
//   - Export types that appear in the public authkeeper API.
//   - Be imported by any package outside the authkeeper module.
package internal
