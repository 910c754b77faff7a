// Package observability provides an OpenTelemetry metrics extension for
// conveyor. MetricsExtension implements the lifecycle hooks and records
// counters for enqueue, completion, failure, retry, dead letter, stall,
// suspension and queue pause events, plus a completion latency histogram.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
