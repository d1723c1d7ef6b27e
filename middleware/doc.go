// Package middleware adapts the navigation gatekeeper to net/http so a
// host that serves its pages over HTTP can guard every route.
//
// # Guards
//
//   - [Guard] resolves the route for each request from a route table.
//   - [RequireRoute] guards a handler with a fixed route.
//
// A redirect decision becomes a 302 with the notice message in the
// "notice" query parameter. An error decision becomes a 500.
//
// # What this package must NOT do
//
//   - Make admission decisions itself (delegates to the gatekeeper).
//   - Read or write session storage.
package middleware
