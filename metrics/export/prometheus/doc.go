// Package prometheus renders authkeeper metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts an authkeeper.Controller and exposes an
// [http.Handler]. Counter names are prefixed authkeeper_ and end in
// _total; the single histogram is authkeeper_init_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the
//     Handler.
//   - Mutate controller state.
package prometheus
