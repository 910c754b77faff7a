package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobEnqueued(context.Context, *job.Job) error { return e.record("enqueued") }
func (e *allHooksExt) OnJobActive(context.Context, *job.Job) error   { return e.record("active") }
func (e *allHooksExt) OnJobProgress(context.Context, *job.Job, int) error {
	return e.record("progress")
}
func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("completed")
}
func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error { return e.record("failed") }
func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.record("retrying")
}
func (e *allHooksExt) OnJobDeadLettered(context.Context, *job.Job, string) error {
	return e.record("dead_lettered")
}
func (e *allHooksExt) OnJobSuspended(context.Context, *job.Job) error { return e.record("suspended") }
func (e *allHooksExt) OnJobStalled(context.Context, *job.Job) error   { return e.record("stalled") }
func (e *allHooksExt) OnQueuePaused(context.Context, string, time.Time) error {
	return e.record("paused")
}
func (e *allHooksExt) OnShutdown(context.Context) error { return e.record("shutdown") }

// completedOnly implements a single hook.
type completedOnly struct {
	name  string
	order *[]string
	err   error
}

func (e *completedOnly) Name() string { return e.name }

func (e *completedOnly) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	if e.order != nil {
		*e.order = append(*e.order, e.name)
	}
	return e.err
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := &job.Job{Name: "x"}
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobActive(ctx, j)
	r.EmitJobProgress(ctx, j, 50)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("x"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobDeadLettered(ctx, j, "x")
	r.EmitJobSuspended(ctx, j)
	r.EmitJobStalled(ctx, j)
	r.EmitQueuePaused(ctx, "q", time.Now())
	r.EmitShutdown(ctx)

	want := []string{"enqueued", "active", "progress", "completed", "failed", "retrying",
		"dead_lettered", "suspended", "stalled", "paused", "shutdown"}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(nil)
	var order []string
	r.Register(&completedOnly{name: "c", order: &order})

	ctx := context.Background()
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitShutdown(ctx)
	if len(order) != 0 {
		t.Fatalf("non-implemented hooks fired: %v", order)
	}
	r.EmitJobCompleted(ctx, &job.Job{}, 0)
	if len(order) != 1 {
		t.Fatalf("OnJobCompleted fired %d times, want 1", len(order))
	}
	if got := len(r.Extensions()); got != 1 {
		t.Errorf("Extensions() len = %d", got)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := ext.NewRegistry(logger)

	var order []string
	r.Register(&completedOnly{name: "broken", order: &order, err: errors.New("kaput")})
	r.Register(&completedOnly{name: "healthy", order: &order})

	r.EmitJobCompleted(context.Background(), &job.Job{}, 0)

	if len(order) != 2 || order[0] != "broken" || order[1] != "healthy" {
		t.Errorf("order = %v, want [broken healthy]", order)
	}
	out := buf.String()
	if !strings.Contains(out, "extension=broken") || !strings.Contains(out, "kaput") {
		t.Errorf("hook error not logged: %s", out)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	r.EmitJobEnqueued(ctx, &job.Job{})
	r.EmitQueuePaused(ctx, "q", time.Now())
	r.EmitShutdown(ctx)
}
