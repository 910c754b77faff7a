package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/scheduler"
	"github.com/xraph/conveyor/store/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, cfgs ...queue.Config) (*scheduler.Scheduler, *memory.Store, *queue.Registry) {
	t.Helper()
	s := memory.New()
	reg := queue.NewRegistry(cfgs...)
	return scheduler.New(reg, s, scheduler.WithClock(clock.NewFake(t0))), s, reg
}

func emails() queue.Config {
	return queue.Config{
		Name:              "emails",
		Concurrency:       2,
		DefaultJobOptions: job.DefaultOptions().Apply(job.WithMaxAttempts(5), job.WithPriority(1)),
	}
}

func TestScheduleJob_Waiting(t *testing.T) {
	sched, s, _ := setup(t, emails())
	ctx := context.Background()

	j, err := sched.ScheduleJob(ctx, "send-email", "emails", job.Payload{"to": "a@example.com"})
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if j.Status != job.StatusWaiting || !j.ScheduledFor.Equal(t0) {
		t.Errorf("status=%q scheduledFor=%v", j.Status, j.ScheduledFor)
	}
	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.Options.MaxAttempts != 5 || stored.Options.Priority != 1 {
		t.Errorf("queue defaults not applied: %+v", stored.Options)
	}
}

func TestScheduleJob_DelayRoundTrip(t *testing.T) {
	sched, _, _ := setup(t, emails())
	j, err := sched.ScheduleJob(context.Background(), "send-email", "emails", nil, job.WithDelay(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusDelayed {
		t.Fatalf("Status = %q, want delayed", j.Status)
	}
	if want := j.CreatedAt.Add(5 * time.Second); !j.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", j.ScheduledFor, want)
	}
}

func TestScheduleJob_ScheduledForWins(t *testing.T) {
	sched, _, _ := setup(t, emails())
	at := t0.Add(time.Hour)
	j, err := sched.ScheduleJob(context.Background(), "send-email", "emails", nil,
		job.WithDelay(time.Second), job.WithScheduledFor(at))
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusDelayed || !j.ScheduledFor.Equal(at) {
		t.Errorf("status=%q scheduledFor=%v", j.Status, j.ScheduledFor)
	}
}

func TestScheduleJob_CallerOptionsOverrideDefaults(t *testing.T) {
	sched, _, _ := setup(t, emails())
	j, err := sched.ScheduleJob(context.Background(), "send-email", "emails", nil,
		job.WithPriority(9), job.WithBackoff(backoff.FixedPolicy(time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if j.Options.Priority != 9 || j.Options.MaxAttempts != 5 || j.Options.Backoff.Kind != backoff.Fixed {
		t.Errorf("merged options = %+v", j.Options)
	}
}

func TestScheduleJob_Errors(t *testing.T) {
	sched, s, reg := setup(t, emails())
	ctx := context.Background()

	if _, err := sched.ScheduleJob(ctx, "x", "missing", nil); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("missing queue = %v", err)
	}
	if _, err := sched.ScheduleJob(ctx, "x", "emails", nil, job.WithMaxAttempts(0)); !errors.Is(err, conveyor.ErrInvalidOptions) {
		t.Errorf("invalid options = %v", err)
	}

	_ = reg.SetDisabled("emails", true)
	if _, err := sched.ScheduleJob(ctx, "x", "emails", nil); !errors.Is(err, conveyor.ErrQueueInactive) {
		t.Errorf("disabled queue = %v", err)
	}

	if n, _ := s.CountJobs(ctx, job.CountOpts{}); n != 0 {
		t.Errorf("rejected schedules persisted %d jobs", n)
	}
}
