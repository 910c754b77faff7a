// Package storetest is a conformance suite run against every store.Store
// backend. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetJob", testCreateAndGetJob},
		{"FindReadyOrdering", testFindReadyOrdering},
		{"TransitionCAS", testTransitionCAS},
		{"DeadLetterHandledMarker", testDeadLetterHandledMarker},
		{"Heartbeat", testHeartbeat},
		{"ListAndCountJobs", testListAndCountJobs},
		{"DLQLifecycle", testDLQLifecycle},
		{"DLQListAndPurge", testDLQListAndPurge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// base is truncated so every backend round-trips it exactly.
var base = time.Now().UTC().Truncate(time.Millisecond)

func newJob(queue string, priority int, created time.Time) *job.Job {
	opts := job.DefaultOptions().Apply(job.WithPriority(priority))
	return job.New("storetest", queue, job.Payload{"key": "value"}, opts, created)
}

func mustCreate(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func testCreateAndGetJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("default", 3, base)
	mustCreate(t, s, j)

	if err := s.CreateJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Name != j.Name || got.Queue != "default" {
		t.Errorf("GetJob identity = %s %s %s", got.ID, got.Name, got.Queue)
	}
	if got.Status != job.StatusWaiting {
		t.Errorf("Status = %s, want waiting", got.Status)
	}
	if got.Payload["key"] != "value" {
		t.Errorf("Payload = %v", got.Payload)
	}
	if got.Options.Priority != 3 || got.Options.MaxAttempts != j.Options.MaxAttempts {
		t.Errorf("Options = %+v", got.Options)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) || !got.ScheduledFor.Equal(j.ScheduledFor) {
		t.Errorf("times = %v %v, want %v", got.CreatedAt, got.ScheduledFor, j.CreatedAt)
	}
	if !got.WorkerID.IsNil() || !got.ReplayOf.IsNil() {
		t.Errorf("expected nil worker and replay IDs, got %s %s", got.WorkerID, got.ReplayOf)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("missing GetJob = %v, want ErrJobNotFound", err)
	}
}

func testFindReadyOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()

	low := newJob("q", 0, base)
	high := newJob("q", 10, base.Add(time.Second))
	older := newJob("q", 0, base.Add(-time.Second))
	future := newJob("q", 100, base)
	future.Status = job.StatusDelayed
	future.ScheduledFor = base.Add(time.Hour)
	other := newJob("other", 50, base)
	mustCreate(t, s, low, high, older, future, other)

	got, err := s.FindReady(ctx, "q", base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("FindReady: %v", err)
	}
	want := []id.JobID{high.ID, older.ID, low.ID}
	if len(got) != len(want) {
		t.Fatalf("FindReady returned %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("FindReady[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}

	limited, err := s.FindReady(ctx, "q", base.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("FindReady limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != high.ID {
		t.Errorf("FindReady limit 1 = %v", limited)
	}
}

func testTransitionCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("q", 0, base)
	mustCreate(t, s, j)

	workerID := id.NewWorkerID()
	prev := j.Status
	if err := j.MarkActive(base.Add(time.Second)); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	j.WorkerID = workerID
	startVersion := j.Version
	if err := s.Transition(ctx, j, prev); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if j.Version != startVersion+1 {
		t.Errorf("Version = %d, want %d", j.Version, startVersion+1)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusActive || got.WorkerID != workerID || got.ProcessedAt == nil {
		t.Errorf("stored = %s worker=%s processed=%v", got.Status, got.WorkerID, got.ProcessedAt)
	}
	if got.Version != j.Version {
		t.Errorf("stored version = %d, want %d", got.Version, j.Version)
	}

	// Same status, stale version.
	stale := j.Clone()
	if err := j.UpdateProgress(base.Add(2*time.Second), 50); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.Transition(ctx, j, job.StatusActive); err != nil {
		t.Fatalf("progress Transition: %v", err)
	}
	if err := stale.UpdateProgress(base.Add(3*time.Second), 60); err != nil {
		t.Fatalf("UpdateProgress stale: %v", err)
	}
	if err := s.Transition(ctx, stale, job.StatusActive); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Errorf("stale Transition = %v, want ErrStatusConflict", err)
	}
	if got, _ := s.GetJob(ctx, j.ID); got == nil || got.Progress != 50 {
		t.Errorf("stale write leaked: %+v", got)
	}

	// Wrong expected status.
	again := j.Clone()
	if err := s.Transition(ctx, again, job.StatusWaiting); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Errorf("wrong-status Transition = %v, want ErrStatusConflict", err)
	}

	missing := newJob("q", 0, base)
	if err := s.Transition(ctx, missing, job.StatusWaiting); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("missing Transition = %v, want ErrJobNotFound", err)
	}
}

func testDeadLetterHandledMarker(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("default", 0, base)
	if err := j.MarkActive(base); err != nil {
		t.Fatal(err)
	}
	if err := j.MoveToDeadLetter(base, "boom"); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, s, j)

	handledAt := base.Add(time.Minute)
	if err := j.MarkDeadLetterHandled(handledAt); err != nil {
		t.Fatalf("MarkDeadLetterHandled: %v", err)
	}
	if err := s.Transition(ctx, j, job.StatusDeadLetter); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusDeadLetter {
		t.Errorf("Status = %s, want dead_letter", got.Status)
	}
	if got.DeadLetterHandledAt == nil || !got.DeadLetterHandledAt.Equal(handledAt) {
		t.Errorf("DeadLetterHandledAt = %v, want %v", got.DeadLetterHandledAt, handledAt)
	}
}

func testHeartbeat(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("q", 0, base)
	mustCreate(t, s, j)

	workerID := id.NewWorkerID()
	if err := s.Heartbeat(ctx, j.ID, workerID, base); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Fatalf("Heartbeat on waiting job = %v, want ErrStatusConflict", err)
	}

	prev := j.Status
	if err := j.MarkActive(base); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	j.WorkerID = workerID
	if err := s.Transition(ctx, j, prev); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	beat := base.Add(5 * time.Second)
	if err := s.Heartbeat(ctx, j.ID, workerID, beat); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := s.Heartbeat(ctx, j.ID, id.NewWorkerID(), beat); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Errorf("Heartbeat from other worker = %v, want ErrStatusConflict", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(beat) {
		t.Errorf("HeartbeatAt = %v, want %v", got.HeartbeatAt, beat)
	}
	if got.Version != j.Version {
		t.Errorf("Heartbeat bumped version to %d, want %d", got.Version, j.Version)
	}
}

func testListAndCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newJob("a", 0, base)
	b := newJob("a", 0, base.Add(time.Second))
	c := newJob("b", 0, base.Add(2*time.Second))
	c.Status = job.StatusDelayed
	mustCreate(t, s, a, b, c)

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID || all[2].ID != c.ID {
		t.Errorf("ListJobs all = %d jobs", len(all))
	}

	queueA, err := s.ListJobs(ctx, job.ListOpts{Queue: "a", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs queue: %v", err)
	}
	if len(queueA) != 1 || queueA[0].ID != b.ID {
		t.Errorf("ListJobs queue a page 2 = %v", queueA)
	}

	delayed, err := s.ListJobs(ctx, job.ListOpts{Statuses: []job.Status{job.StatusDelayed}})
	if err != nil {
		t.Fatalf("ListJobs status: %v", err)
	}
	if len(delayed) != 1 || delayed[0].ID != c.ID {
		t.Errorf("ListJobs delayed = %v", delayed)
	}

	n, err := s.CountJobs(ctx, job.CountOpts{Queue: "a"})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("CountJobs queue a = %d, want 2", n)
	}
	n, err = s.CountJobs(ctx, job.CountOpts{Status: job.StatusWaiting})
	if err != nil {
		t.Fatalf("CountJobs status: %v", err)
	}
	if n != 2 {
		t.Errorf("CountJobs waiting = %d, want 2", n)
	}
}

// ──────────────────────────────────────────────────
// Dead letter entries
// ──────────────────────────────────────────────────

func newEntry(queue string, failedAt time.Time) *dlq.Entry {
	j := newJob(queue, 0, failedAt)
	j.FailureReason = "boom"
	j.FailedAt = &failedAt
	return dlq.NewEntry(j, dlq.ClassExternal, failedAt)
}

func testDLQLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("q", base)

	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}
	dup := *e
	dup.ID = id.NewDLQID()
	if err := s.PushDLQ(ctx, &dup); !errors.Is(err, conveyor.ErrDLQAlreadyExists) {
		t.Fatalf("duplicate PushDLQ = %v, want ErrDLQAlreadyExists", err)
	}

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.JobID != e.JobID || got.Reason != "boom" || got.Classification != dlq.ClassExternal {
		t.Errorf("GetDLQ = %+v", got)
	}
	if got.Payload["key"] != "value" {
		t.Errorf("GetDLQ payload = %v", got.Payload)
	}

	byJob, err := s.GetDLQByJob(ctx, e.JobID)
	if err != nil {
		t.Fatalf("GetDLQByJob: %v", err)
	}
	if byJob.ID != e.ID {
		t.Errorf("GetDLQByJob = %s, want %s", byJob.ID, e.ID)
	}

	replayed := base.Add(time.Minute)
	e.Action = dlq.ActionRetried
	e.Replays = 1
	e.ReplayJobID = id.NewJobID()
	e.ReplayedAt = &replayed
	e.UpdatedAt = replayed
	if err := s.UpdateDLQ(ctx, e); err != nil {
		t.Fatalf("UpdateDLQ: %v", err)
	}
	got, err = s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ after update: %v", err)
	}
	if got.Action != dlq.ActionRetried || got.Replays != 1 || got.ReplayJobID != e.ReplayJobID {
		t.Errorf("updated entry = %+v", got)
	}
	if got.ReplayedAt == nil || !got.ReplayedAt.Equal(replayed) {
		t.Errorf("ReplayedAt = %v, want %v", got.ReplayedAt, replayed)
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("missing GetDLQ = %v, want ErrDLQNotFound", err)
	}
	if _, err := s.GetDLQByJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("missing GetDLQByJob = %v, want ErrDLQNotFound", err)
	}
	missing := newEntry("q", base)
	if err := s.UpdateDLQ(ctx, missing); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("missing UpdateDLQ = %v, want ErrDLQNotFound", err)
	}
}

func testDLQListAndPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := newEntry("a", base.Add(-2*time.Hour))
	mid := newEntry("b", base.Add(-time.Hour))
	recent := newEntry("a", base)
	for _, e := range []*dlq.Entry{old, mid, recent} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 3 || all[0].ID != recent.ID || all[2].ID != old.ID {
		t.Errorf("ListDLQ order wrong: %d entries", len(all))
	}

	queueA, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: "a"})
	if err != nil {
		t.Fatalf("ListDLQ queue: %v", err)
	}
	if len(queueA) != 2 {
		t.Errorf("ListDLQ queue a = %d, want 2", len(queueA))
	}

	n, err := s.PurgeDLQ(ctx, base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeDLQ removed %d, want 2", n)
	}
	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 1 {
		t.Errorf("CountDLQ = %d, want 1", count)
	}
}
