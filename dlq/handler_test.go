package dlq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store/memory"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type enqueueSpy struct {
	store *memory.Store
	mu    sync.Mutex
	jobs  []*job.Job
	err   error
}

func (e *enqueueSpy) Enqueue(ctx context.Context, j *job.Job) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	e.jobs = append(e.jobs, j)
	e.mu.Unlock()
	return e.store.CreateJob(ctx, j)
}

type fixture struct {
	store   *memory.Store
	spy     *enqueueSpy
	alerts  *alert.Recorder
	clock   *clock.Fake
	handler *dlq.Handler
}

func newFixture(t *testing.T, opts ...dlq.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		alerts: &alert.Recorder{},
		clock:  clock.NewFake(epoch),
	}
	f.spy = &enqueueSpy{store: f.store}
	base := []dlq.Option{
		dlq.WithAlerts(f.alerts),
		dlq.WithClock(f.clock),
		dlq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.handler = dlq.NewHandler(f.store, f.store, f.spy, append(base, opts...)...)
	return f
}

func (f *fixture) deadJob(t *testing.T, kind job.FailureKind, reason string) *job.Job {
	t.Helper()
	opts := job.DefaultOptions()
	opts.Priority = 5
	j := job.New("sync", "default", job.Payload{"id": 7}, opts, f.clock.Now())
	if err := j.MarkActive(f.clock.Now()); err != nil {
		t.Fatal(err)
	}
	j.FailureKind = kind
	if err := j.MoveToDeadLetter(f.clock.Now(), reason); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func (f *fixture) sweep(t *testing.T) dlq.Report {
	t.Helper()
	r, err := f.handler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	return r
}

func (f *fixture) entryFor(t *testing.T, j *job.Job) *dlq.Entry {
	t.Helper()
	e, err := f.store.GetDLQByJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetDLQByJob: %v", err)
	}
	return e
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		kind   job.FailureKind
		reason string
		want   dlq.Classification
	}{
		{job.FailureConfiguration, "whatever", dlq.ClassConfiguration},
		{job.FailureExternal, "whatever", dlq.ClassExternal},
		{job.FailureCorruption, "whatever", dlq.ClassCorruption},
		{"", "invalid config: missing SMTP host", dlq.ClassConfiguration},
		{"", "dial tcp: connection refused", dlq.ClassExternal},
		{"", "upstream returned 503", dlq.ClassExternal},
		{"", "json: cannot unmarshal string", dlq.ClassCorruption},
		{"", "record is corrupt", dlq.ClassCorruption},
		{"", "something odd", dlq.ClassUnknown},
	}
	for _, tt := range tests {
		j := &job.Job{FailureKind: tt.kind, FailureReason: tt.reason}
		if got := dlq.DefaultClassifier(j); got != tt.want {
			t.Errorf("classify(%q, %q) = %s, want %s", tt.kind, tt.reason, got, tt.want)
		}
	}
}

func TestHandler_ConfigurationFailureAlerts(t *testing.T) {
	f := newFixture(t)
	j := f.deadJob(t, job.FailureConfiguration, "missing api key")

	r := f.sweep(t)
	if r.Handled[dlq.ActionAlerted] != 1 {
		t.Fatalf("report = %+v", r)
	}
	if f.alerts.Count(alert.SeverityCritical) != 1 {
		t.Errorf("critical alerts = %d, want 1", f.alerts.Count(alert.SeverityCritical))
	}
	e := f.entryFor(t, j)
	if e.Classification != dlq.ClassConfiguration || e.Action != dlq.ActionAlerted {
		t.Errorf("entry = %+v", e)
	}
	if len(f.spy.jobs) != 0 {
		t.Error("configuration failure was re-queued")
	}
}

func TestHandler_ExternalFailureRetriedOnce(t *testing.T) {
	f := newFixture(t)
	orig := f.deadJob(t, job.FailureExternal, "payment gateway unavailable")

	r := f.sweep(t)
	if r.Handled[dlq.ActionRetried] != 1 {
		t.Fatalf("first sweep report = %+v", r)
	}
	if len(f.spy.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(f.spy.jobs))
	}
	replay := f.spy.jobs[0]
	if replay.ID == orig.ID {
		t.Fatal("replay reused the original ID")
	}
	if replay.Status != job.StatusWaiting || replay.Attempts != 0 {
		t.Errorf("replay status=%s attempts=%d", replay.Status, replay.Attempts)
	}
	if replay.Options.Priority != 4 {
		t.Errorf("replay priority = %d, want 4", replay.Options.Priority)
	}
	if replay.DeadLetterRetries != 1 || replay.ReplayOf != orig.ID {
		t.Errorf("lineage retries=%d replayOf=%s", replay.DeadLetterRetries, replay.ReplayOf)
	}
	if e := f.entryFor(t, orig); e.ReplayJobID != replay.ID {
		t.Errorf("entry replay job = %s", e.ReplayJobID)
	}

	// The replay dead-letters with the same failure.
	stored, _ := f.store.GetJob(context.Background(), replay.ID)
	_ = stored.MarkActive(f.clock.Now())
	if err := f.store.Transition(context.Background(), stored, job.StatusWaiting); err != nil {
		t.Fatal(err)
	}
	stored.FailureKind = job.FailureExternal
	_ = stored.MoveToDeadLetter(f.clock.Now(), "payment gateway unavailable")
	if err := f.store.Transition(context.Background(), stored, job.StatusActive); err != nil {
		t.Fatal(err)
	}

	r = f.sweep(t)
	if r.Handled[dlq.ActionExhausted] != 1 || r.Handled[dlq.ActionRetried] != 0 {
		t.Fatalf("second sweep report = %+v", r)
	}
	if len(f.spy.jobs) != 1 {
		t.Errorf("replay was retried again: %d enqueues", len(f.spy.jobs))
	}
	if f.alerts.Count(alert.SeverityWarning) != 1 {
		t.Errorf("warning alerts = %d, want 1", f.alerts.Count(alert.SeverityWarning))
	}
	final, _ := f.store.GetJob(context.Background(), replay.ID)
	if final.Status != job.StatusDeadLetter {
		t.Errorf("replay status = %s, want dead_letter", final.Status)
	}

	if r := f.sweep(t); r.Total() != 0 {
		t.Errorf("third sweep handled %d entries, want 0", r.Total())
	}
}

func TestHandler_CorruptionIsQuarantined(t *testing.T) {
	f := newFixture(t)
	j := f.deadJob(t, "", "payload checksum mismatch")

	r := f.sweep(t)
	if r.Handled[dlq.ActionQuarantined] != 1 {
		t.Fatalf("report = %+v", r)
	}
	e := f.entryFor(t, j)
	if !e.Quarantined || e.Classification != dlq.ClassCorruption {
		t.Errorf("entry = %+v", e)
	}
	if len(f.spy.jobs) != 0 {
		t.Error("quarantined job was re-queued")
	}
}

func TestHandler_UnknownIsLogged(t *testing.T) {
	f := newFixture(t)
	f.deadJob(t, "", "unexpected nil")

	r := f.sweep(t)
	if r.Handled[dlq.ActionLogged] != 1 {
		t.Fatalf("report = %+v", r)
	}
	if len(f.alerts.Alerts()) != 0 {
		t.Errorf("unknown failure alerted: %v", f.alerts.Alerts())
	}
}

func TestHandler_EscalatesFailedJobs(t *testing.T) {
	f := newFixture(t, dlq.WithIncludeFailed(true))
	ctx := context.Background()

	failed := job.New("sync", "default", nil, job.DefaultOptions().Apply(job.WithMaxAttempts(1)), epoch)
	_ = failed.MarkActive(epoch)
	_, _ = failed.MarkFailed(epoch, "dial tcp: connection refused", true)
	canceled := job.New("sync", "default", nil, job.DefaultOptions(), epoch)
	_ = canceled.Cancel(epoch)
	for _, j := range []*job.Job{failed, canceled} {
		if err := f.store.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	r := f.sweep(t)
	if r.Escalated != 1 {
		t.Errorf("escalated = %d, want 1", r.Escalated)
	}
	if r.Handled[dlq.ActionRetried] != 1 {
		t.Errorf("report = %+v", r)
	}
	got, _ := f.store.GetJob(ctx, failed.ID)
	if got.Status != job.StatusDeadLetter {
		t.Errorf("failed job status = %s", got.Status)
	}
	got, _ = f.store.GetJob(ctx, canceled.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("canceled job escalated to %s", got.Status)
	}
}

func TestHandler_FailedRequeueFallsBackToLogged(t *testing.T) {
	f := newFixture(t)
	f.spy.err = errors.New("manager stopped")
	j := f.deadJob(t, job.FailureExternal, "timeout")

	r := f.sweep(t)
	if r.Errors != 1 {
		t.Fatalf("report = %+v", r)
	}
	e := f.entryFor(t, j)
	if e.Action != dlq.ActionLogged || !e.ReplayJobID.IsNil() {
		t.Errorf("entry after failed re-queue = %+v", e)
	}
}

func TestHandler_ReplayRespectsLimit(t *testing.T) {
	f := newFixture(t)
	j := f.deadJob(t, job.FailureConfiguration, "bad config")
	f.sweep(t)
	e := f.entryFor(t, j)

	replay, err := f.handler.Replay(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replay.ReplayOf != j.ID || replay.DeadLetterRetries != 1 {
		t.Errorf("replay lineage = %s/%d", replay.ReplayOf, replay.DeadLetterRetries)
	}
	updated, _ := f.handler.Entry(context.Background(), e.ID)
	if updated.Action != dlq.ActionReplayed || updated.ReplayedAt == nil {
		t.Errorf("entry = %+v", updated)
	}

	if _, err := f.handler.Replay(context.Background(), e.ID); !errors.Is(err, conveyor.ErrReplayLimit) {
		t.Errorf("second replay err = %v, want ErrReplayLimit", err)
	}
	if _, err := f.handler.Replay(context.Background(), updated.ID); !errors.Is(err, conveyor.ErrReplayLimit) {
		t.Errorf("replay err = %v", err)
	}
}

func TestHandler_EntriesAndPurge(t *testing.T) {
	f := newFixture(t)
	f.deadJob(t, "", "one")
	f.clock.Advance(48 * time.Hour)
	f.deadJob(t, "", "two")
	f.sweep(t)

	all, err := f.handler.Entries(context.Background(), dlq.ListOpts{})
	if err != nil || len(all) != 2 {
		t.Fatalf("Entries = %d, %v", len(all), err)
	}

	n, err := f.handler.Purge(context.Background(), epoch.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	left, _ := f.handler.Entries(context.Background(), dlq.ListOpts{})
	if len(left) != 1 || left[0].Reason != "two" {
		t.Errorf("remaining = %+v", left)
	}
}

func TestHandler_PurgedJobIsNotRequeuedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dead := f.deadJob(t, job.FailureExternal, "upstream unavailable")

	if r := f.sweep(t); r.Handled[dlq.ActionRetried] != 1 {
		t.Fatalf("first sweep report = %+v", r)
	}
	stored, err := f.store.GetJob(ctx, dead.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != job.StatusDeadLetter || stored.DeadLetterHandledAt == nil {
		t.Fatalf("dead job after sweep: status=%s handled=%v", stored.Status, stored.DeadLetterHandledAt)
	}

	f.clock.Advance(48 * time.Hour)
	n, err := f.handler.Purge(ctx, f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}

	for i := 0; i < 3; i++ {
		if r := f.sweep(t); r.Total() != 0 {
			t.Fatalf("sweep %d after purge handled %d entries", i+1, r.Total())
		}
	}

	replays := 0
	for _, j := range f.spy.jobs {
		if j.ReplayOf == dead.ID {
			replays++
		}
	}
	if replays != 1 {
		t.Errorf("dead job re-queued %d times, want 1", replays)
	}
	if _, err := f.store.GetDLQByJob(ctx, dead.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("entry recreated after purge: %v", err)
	}
}

func TestHandler_StartValidatesSchedule(t *testing.T) {
	f := newFixture(t, dlq.WithSchedule("not a schedule"))
	if err := f.handler.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule error")
	}

	ok := newFixture(t, dlq.WithSchedule("@every 1h"))
	if err := ok.handler.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ok.handler.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
