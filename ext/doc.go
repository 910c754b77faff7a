// Package ext defines the extension system for Conveyor.
//
// Extensions are notified of job lifecycle events and react to them by
// recording metrics, writing audit logs, and so on. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type slowJobs struct{}
//
//	func (slowJobs) Name() string { return "slow-jobs" }
//
//	func (slowJobs) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    if elapsed > time.Minute {
//	        slog.Warn("slow job", slog.String("job_id", j.ID.String()))
//	    }
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued]: job handed to a queue manager
//   - [JobActive]: job claimed by a worker
//   - [JobProgress]: progress update persisted
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: attempt failed, job scheduled again
//   - [JobFailed]: job left the dispatch path as FAILED
//   - [JobDeadLettered]: job moved to DEAD_LETTER
//   - [JobSuspended]: job waits for child jobs
//   - [JobStalled]: job force-failed by the stall reaper
//   - [QueuePaused]: processor paused its queue with a rate limit signal
//   - [Shutdown]: queue manager stopped
//
// Hook errors are logged by the [Registry] and never affect the job.
package ext
