// Package transport provides the outgoing-request side of the session: an
// [http.RoundTripper] that warms the session up, attaches the bearer
// token, and turns failed responses into session transitions and
// rate-limited notices.
//
// # What this package must NOT do
//
//   - Retry requests. A failed response is classified once and returned.
//   - Swallow responses. Callers always receive the original status and
//     body.
package transport
