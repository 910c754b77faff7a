// Package dlq handles jobs that left the dispatch path for good.
//
// A [Handler] periodically sweeps DEAD_LETTER jobs (and, when configured,
// FAILED ones, which it escalates to DEAD_LETTER first). Every job gets
// exactly one [Entry] recording what the handler decided:
//
//   - configuration failures raise a critical alert
//   - external service failures are re-queued once as a new job with a
//     fresh attempt budget and a lower priority, then left alone
//   - data corruption is quarantined and never retried
//   - anything else is logged
//
// Re-queues are tracked on the job lineage (job.Job.DeadLetterRetries), so
// a replayed job that dead-letters again is not retried a second time.
// Operators can replay an entry by hand through [Handler.Replay], subject
// to the same cap, and purge old entries with [Handler.Purge].
//
// Sweeps run on a robfig/cron schedule between [Handler.Start] and
// [Handler.Stop], or on demand through [Handler.Sweep].
package dlq
