package backoff_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor/backoff"
)

func TestFixed_ReturnsBaseDelay(t *testing.T) {
	p := backoff.FixedPolicy(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := p.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_ExactWithoutJitter(t *testing.T) {
	p := backoff.ExponentialPolicy(time.Second, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterWithinBounds(t *testing.T) {
	p := backoff.ExponentialPolicy(time.Second, 0.5)
	for i := 0; i < 200; i++ {
		got := p.Delay(3)
		if got < 4*time.Second || got > 6*time.Second {
			t.Fatalf("Delay(3) = %v, want within [4s, 6s]", got)
		}
	}
}

func TestExponential_DeterministicJitterSample(t *testing.T) {
	p := backoff.ExponentialPolicy(time.Second, 0.5)
	got := p.DelayWithJitter(2, func() float64 { return 1 })
	if got != 3*time.Second {
		t.Errorf("DelayWithJitter = %v, want 3s", got)
	}
}

func TestExponential_SaturatesOnOverflow(t *testing.T) {
	p := backoff.ExponentialPolicy(time.Hour, 0)
	if got := p.Delay(200); got <= 0 {
		t.Errorf("Delay(200) = %v, want a large positive duration", got)
	}
}

func TestCustom_UsesRegisteredFunc(t *testing.T) {
	backoff.RegisterCustom("linear-test", func(attempts int, base time.Duration) time.Duration {
		return base * time.Duration(attempts)
	})
	defer backoff.UnregisterCustom("linear-test")

	p := backoff.CustomPolicy("linear-test", 2*time.Second)
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := p.Delay(3); got != 6*time.Second {
		t.Errorf("Delay(3) = %v, want 6s", got)
	}
}

func TestCustom_NegativeResultClampedToZero(t *testing.T) {
	backoff.RegisterCustom("negative-test", func(int, time.Duration) time.Duration {
		return -time.Minute
	})
	defer backoff.UnregisterCustom("negative-test")

	if got := backoff.CustomPolicy("negative-test", time.Second).Delay(1); got != 0 {
		t.Errorf("Delay = %v, want 0", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	bad := []backoff.Policy{
		{Kind: backoff.Fixed, BaseDelay: -time.Second},
		{Kind: backoff.Exponential, BaseDelay: time.Second, JitterFraction: 1.5},
		{Kind: backoff.Custom, Name: "missing"},
		{Kind: "bogus"},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, backoff.ErrInvalidPolicy) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidPolicy", p, err)
		}
	}
	if err := backoff.Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestCap(t *testing.T) {
	if got := backoff.Cap(time.Minute, 10*time.Second); got != 10*time.Second {
		t.Errorf("Cap = %v, want 10s", got)
	}
	if got := backoff.Cap(time.Minute, 0); got != time.Minute {
		t.Errorf("Cap with zero max = %v, want 1m", got)
	}
}
