// Package authkeeper manages the client side of a token session against
// the school-manager backend: it keeps the bearer credential, restores the
// session after a reload, confirms the profile, and decides whether the
// user may enter a route.
//
// [Controller] methods are safe to call from multiple goroutines once
// [Builder.Build] has returned.
//
// # Architecture boundaries
//
// authkeeper is the public surface. It exposes [Controller], [Builder],
// [Config] and value types (State, Event, MetricsSnapshot). The components
// it wires together live in their own packages:
//
//   - credential: the token, its local expiry and the background refresh.
//   - snapshot: the reload snapshot and the single-flight restore.
//   - gatekeeper: route admission on top of the controller.
//   - transport: the HTTP interceptor that attaches the token and
//     classifies failures.
//   - notice: debounced user-facing messages.
//   - storage: memory, file, SQLite and Redis key-value backends.
//
// # What this package must NOT do
//
//   - Render anything. Notices are handed to a [notice.Notifier].
//   - Treat a local token as proof of identity. The backend is the
//     authority; the local expiry only decides when to stop trying.
//   - Import gatekeeper, transport or middleware (they import this package).
//
// # Concurrency contract
//
// Lock order is Controller state, then credential store. Timer hooks from
// the credential store run outside its lock, so they may call back into
// the controller.
package authkeeper
