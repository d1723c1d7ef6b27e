// Package notice defines user-facing notifications and the per-category gate
// that keeps repeated notices from flooding the UI.
//
// # Architecture boundaries
//
// Components never talk to a UI directly. They hand a [Notice] to a [Gate],
// which forwards it to the host's [Notifier] unless the same category was
// already shown inside its debounce window.
//
// # What this package must NOT do
//
//   - Render anything.
//   - Block on the host notifier for longer than the notifier itself blocks.
package notice
