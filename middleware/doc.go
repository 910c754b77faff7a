// Package middleware provides composable middleware around processor
// invocation.
//
// A [Middleware] wraps the call into a job's processor. Middleware are
// composed with [Chain]; the first middleware in the list is the
// outermost wrapper.
//
//	// logging → recover → timeout → processor
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging]: logs job name, queue, attempt, duration, and outcome
//   - [Recover]: converts processor panics into errors
//   - [Timeout]: applies the job's per-attempt timeout to the context
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// Processor signals (rate limit, waiting on children) pass through the
// chain as errors. [Outcome] classifies them so instrumentation does not
// count them as failures.
package middleware
