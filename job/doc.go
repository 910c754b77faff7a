// Package job defines the job entity, its state machine, retry options,
// processor contract, and store interface.
//
// # Lifecycle
//
// A [Job] moves through these statuses:
//
//	waiting ──┐
//	          ├─→ active ─→ completed
//	delayed ──┘     │
//	                ├─→ waiting / delayed   (recoverable failure, rate limit)
//	                ├─→ suspended ─→ waiting (waiting on child jobs)
//	                ├─→ failed               (budget exhausted, canceled)
//	                └─→ dead_letter          (unrecoverable, no processor)
//
// completed and dead_letter are terminal. failed leaves the dispatch path
// but can still be escalated to dead_letter by the dead letter handler.
//
// Every transition method takes the current instant explicitly so the
// caller's clock decides what "now" means.
//
// # Processors
//
// A [Processor] runs a job. It may optionally implement [ActiveHook],
// [ProgressHook], [CompletedHook], or [FailedHook]. Processors signal
// special outcomes by returning the errors built by [Unrecoverable],
// [RateLimited], and [WaitingOnChildren]; every other error is a
// recoverable failure.
//
//	var SendEmail = job.NewDefinition("send-email",
//	    func(ctx context.Context, j *job.Job, in EmailInput) (any, error) {
//	        return nil, mailer.Send(ctx, in.To, in.Subject)
//	    },
//	)
//
// [Registry] maps (name, queue) pairs to processors, falling back to a
// queue-agnostic registration.
package job
