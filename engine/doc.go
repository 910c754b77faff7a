// Package engine wires the conveyor subsystems together and provides the
// primary application-level API for registering processors and scheduling
// work.
//
// The engine sits above every subsystem package and below the application
// layer. It owns the extension registry, the processor registry, the queue
// config registry, the scheduler, the queue manager and the dead letter
// handler, and builds them all from one store.Store.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:              "emails",
//	        Concurrency:       10,
//	        RateLimit:         &queue.RateLimit{MaxOps: 100, Window: time.Minute},
//	        DefaultJobOptions: job.DefaultOptions(),
//	    }),
//	)
//
// # Registering Work
//
//	engine.Register(eng, SendEmail)
//	eng.RegisterFunc("cleanup", "", cleanupFn)
//
// # Scheduling Jobs
//
//	j, err := engine.Enqueue(ctx, eng, "send-email", "emails", EmailInput{To: "user@example.com"})
//
//	// With options
//	eng.Schedule(ctx, "send-email", "emails", payload,
//	    job.WithDelay(5*time.Minute),
//	    job.WithPriority(10),
//	)
//
// # Options
//
//   - [WithConfig] — runtime tuning for the manager and dead letter handler
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithQueueConfig] — register queues with concurrency and rate limits
//   - [WithAlerts] — set the operator alert sender
//   - [WithTracerProvider] / [WithMeterProvider] — OpenTelemetry providers
package engine
