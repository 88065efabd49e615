// Package prometheus provides Prometheus collectors for attemptgate metrics.
//
// [NewPrometheusExporter] accepts an [attemptgate.Limiter] and exposes an
// [http.Handler] that renders all limiter counters in Prometheus text
// exposition format. Counter names are prefixed attemptgate_ and suffixed
// _total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate limiter state.
package prometheus
