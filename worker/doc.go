// Package worker is Conveyor's queue manager.
//
// A [Manager] runs one dispatch pool per served queue. Each pool re-reads
// the queue config on every attempt, peeks ready jobs in priority order,
// takes a slot from the queue gate (pause, concurrency, rate limit), and
// claims a job by compare-and-swap on its status and version. Claimed jobs
// run through the middleware chain on their own goroutine; the executor
// turns the processor's result into the next state:
//
//   - nil error: COMPLETED, and parents waiting on the job are resumed
//   - job.RateLimited: the queue is paused and the job requeued
//   - job.WaitingOnChildren: SUSPENDED until every child is terminal
//   - job.Unrecoverable: DEAD_LETTER with attempts unchanged
//   - caller cancellation: FAILED with reason "canceled"
//   - anything else: a counted attempt with backoff, or FAILED when the
//     budget is spent
//
// Held jobs are heartbeated; a maintenance loop force-fails stalled jobs
// and resumes suspended ones whose children have finished. Status writes
// that fail for transient reasons are retried without counting attempts.
package worker
