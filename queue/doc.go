// Package queue defines queue configuration and the runtime gate that
// enforces it.
//
// A [Config] names a queue and sets its concurrency, optional rate limit,
// default job options, and whether it accepts new work:
//
//	queue.Config{
//	    Name:        "emails",
//	    Concurrency: 5,
//	    RateLimit:   &queue.RateLimit{MaxOps: 100, Window: time.Minute},
//	}
//
// Configs are looked up through [Store]; [Registry] is the in-memory
// implementation. Consumers re-read the config at every dispatch attempt,
// so changes apply to newly dispatched jobs only.
//
// [Gate] holds the per-queue runtime state: active slot counts, a
// token-bucket limiter (golang.org/x/time/rate) per rate-limited queue,
// and pauses requested by processors.
package queue
