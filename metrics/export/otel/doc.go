// Package otel provides OpenTelemetry metric exporter bindings for
// attemptgate counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter instrument for each
// limiter metric. A single callback reads [attemptgate.Limiter.MetricsSnapshot]
// on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate limiter state.
package otel
