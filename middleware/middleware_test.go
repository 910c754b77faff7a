package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	trace := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(trace("mw1"), trace("mw2"))
	err := chain(context.Background(), newTestJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("order = %v, want %v", order, expected)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_EmptyCallsHandler(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	want := errors.New("handler error")
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) error { return next(ctx) }

	err := middleware.Chain(pass)(context.Background(), newTestJob(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	j := newTestJob()
	j.Name = "panicky"
	err := middleware.Recover(slog.Default())(context.Background(), j, func(context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in job panicky: test panic" {
		t.Errorf("error = %q", got)
	}
	if job.IsUnrecoverable(err) {
		t.Error("panics should be retried like any other failure")
	}
}

func TestTimeout_AppliesJobTimeout(t *testing.T) {
	j := newTestJob()
	j.Options.Timeout = 20 * time.Millisecond

	err := middleware.Timeout(slog.Default())(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline on context")
		}
		<-ctx.Done()
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_NoTimeoutNoDeadline(t *testing.T) {
	err := middleware.Timeout(slog.Default())(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLogging_FailureAndSignal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := middleware.Logging(logger)

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("boom") })
	if !strings.Contains(buf.String(), "job failed") || !strings.Contains(buf.String(), "boom") {
		t.Errorf("failure not logged: %s", buf.String())
	}

	buf.Reset()
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return job.RateLimited(time.Second) })
	if strings.Contains(buf.String(), "job failed") || !strings.Contains(buf.String(), "outcome=rate_limited") {
		t.Errorf("signal logged as failure: %s", buf.String())
	}
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, middleware.OutcomeOK},
		{errors.New("x"), middleware.OutcomeError},
		{job.Unrecoverable(errors.New("x")), middleware.OutcomeUnrecoverable},
		{job.RateLimited(time.Second), middleware.OutcomeRateLimited},
		{job.WaitingOnChildren(), middleware.OutcomeWaiting},
		{context.Canceled, middleware.OutcomeCanceled},
	}
	for _, c := range cases {
		if got := middleware.Outcome(c.err); got != c.want {
			t.Errorf("Outcome(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
