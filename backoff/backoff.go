// Package backoff computes retry delays for failed jobs.
//
// A Policy is plain data so it can be persisted with the job. Custom
// strategies are registered by name and referenced from the policy; the
// function itself never leaves the process.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Kind selects the delay formula.
type Kind string

const (
	// Fixed waits BaseDelay between every attempt.
	Fixed Kind = "fixed"
	// Exponential waits BaseDelay * 2^(attempts-1), plus optional jitter.
	Exponential Kind = "exponential"
	// Custom delegates to a function registered with RegisterCustom.
	Custom Kind = "custom"
)

// Func computes the delay for a custom policy. attempts is the number of
// failed attempts so far (1 after the first failure).
type Func func(attempts int, base time.Duration) time.Duration

// Policy describes how long to wait before the next attempt.
type Policy struct {
	Kind      Kind          `json:"kind"`
	BaseDelay time.Duration `json:"base_delay"`
	// JitterFraction in [0, 1] adds up to that fraction of the exponential
	// delay at random. Ignored by the other kinds.
	JitterFraction float64 `json:"jitter_fraction,omitempty"`
	// Name is the registered custom function for Kind Custom.
	Name string `json:"name,omitempty"`
}

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("backoff: invalid policy")

// Default returns exponential backoff from one second with 10% jitter.
func Default() Policy {
	return Policy{Kind: Exponential, BaseDelay: time.Second, JitterFraction: 0.1}
}

// FixedPolicy is shorthand for a Fixed policy.
func FixedPolicy(d time.Duration) Policy {
	return Policy{Kind: Fixed, BaseDelay: d}
}

// ExponentialPolicy is shorthand for an Exponential policy.
func ExponentialPolicy(base time.Duration, jitter float64) Policy {
	return Policy{Kind: Exponential, BaseDelay: base, JitterFraction: jitter}
}

// CustomPolicy references a function registered under name.
func CustomPolicy(name string, base time.Duration) Policy {
	return Policy{Kind: Custom, BaseDelay: base, Name: name}
}

// Validate checks the policy fields. An empty Kind is treated as Fixed.
func (p Policy) Validate() error {
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: negative base delay %v", ErrInvalidPolicy, p.BaseDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 || math.IsNaN(p.JitterFraction) {
		return fmt.Errorf("%w: jitter fraction %v outside [0, 1]", ErrInvalidPolicy, p.JitterFraction)
	}
	switch p.Kind {
	case "", Fixed, Exponential:
		return nil
	case Custom:
		if _, ok := lookup(p.Name); !ok {
			return fmt.Errorf("%w: custom backoff %q is not registered", ErrInvalidPolicy, p.Name)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, p.Kind)
	}
}

// Delay returns the wait after the given number of failed attempts.
// The result is never negative.
func (p Policy) Delay(attempts int) time.Duration {
	return p.DelayWithJitter(attempts, rand.Float64) //nolint:gosec // jitter does not need crypto rand
}

// DelayWithJitter is Delay with an explicit source of U(0,1) samples.
func (p Policy) DelayWithJitter(attempts int, sample func() float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	var d time.Duration
	switch p.Kind {
	case Exponential:
		d = exponential(p.BaseDelay, attempts)
		if p.JitterFraction > 0 && sample != nil {
			extra := sample() * p.JitterFraction * float64(d)
			d = saturatingAdd(d, time.Duration(extra))
		}
	case Custom:
		if fn, ok := lookup(p.Name); ok {
			d = fn(attempts, p.BaseDelay)
		} else {
			d = p.BaseDelay
		}
	default:
		d = p.BaseDelay
	}
	if d < 0 {
		return 0
	}
	return d
}

// Cap limits d to maxDelay when maxDelay is positive.
func Cap(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

func exponential(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	f := float64(base) * math.Pow(2, float64(attempts-1))
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}

// ──────────────────────────────────────────────────
// Custom function registry
// ──────────────────────────────────────────────────

var (
	customMu sync.RWMutex
	customs  = map[string]Func{}
)

// RegisterCustom makes fn available to policies with Kind Custom and the
// given name. Registering the same name again replaces the function.
func RegisterCustom(name string, fn Func) {
	customMu.Lock()
	defer customMu.Unlock()
	customs[name] = fn
}

// UnregisterCustom removes a custom function.
func UnregisterCustom(name string) {
	customMu.Lock()
	defer customMu.Unlock()
	delete(customs, name)
}

func lookup(name string) (Func, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := customs[name]
	return fn, ok
}
