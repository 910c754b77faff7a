// Package conveyor provides a broker-agnostic background job core for Go:
// a durable job state machine with retry and backoff policy, per-queue
// bounded worker pools that execute pluggable processors, and a dead-letter
// escalation path.
//
// Conveyor is a library. Import it, pick a store, register processors, and
// schedule jobs against configured queues.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:              "emails",
//	        Concurrency:       2,
//	        DefaultJobOptions: job.DefaultOptions(),
//	    }),
//	)
//	eng.RegisterFunc("send-email", "emails", sendEmail)
//	_ = eng.Start(ctx)
//	j, err := eng.Schedule(ctx, "send-email", "emails", job.Payload{"to": "a@b.c"})
//
// # Architecture
//
// Each subsystem (job, dlq) defines its own store interface and a single
// backend (memory, postgres, redis, bun) implements all of them. Queue
// policy lives in a queue.Store, processors in a job.Registry, lifecycle
// observers in an ext.Registry.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conveyor
