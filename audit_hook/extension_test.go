package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor/alert"
	ah "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Name:     "send-email",
		Queue:    "default",
		Status:   job.StatusActive,
		Attempts: 1,
		Options:  job.Options{MaxAttempts: 3},
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	if got := ah.New(&mockRecorder{}).Name(); got != "audit-hook" {
		t.Errorf("Name = %q", got)
	}
}

func TestExtension_JobEvents(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	cases := []struct {
		emit     func() error
		action   string
		severity string
		outcome  string
	}{
		{func() error { return e.OnJobEnqueued(ctx, j) }, ah.ActionJobEnqueued, ah.SeverityInfo, ah.OutcomeSuccess},
		{func() error { return e.OnJobActive(ctx, j) }, ah.ActionJobActive, ah.SeverityInfo, ah.OutcomeSuccess},
		{func() error { return e.OnJobCompleted(ctx, j, 1500*time.Millisecond) }, ah.ActionJobCompleted, ah.SeverityInfo, ah.OutcomeSuccess},
		{func() error { return e.OnJobFailed(ctx, j, errors.New("boom")) }, ah.ActionJobFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{func() error { return e.OnJobRetrying(ctx, j, 2, time.Now()) }, ah.ActionJobRetrying, ah.SeverityWarning, ah.OutcomeFailure},
		{func() error { return e.OnJobDeadLettered(ctx, j, "bad input") }, ah.ActionJobDeadLettered, ah.SeverityCritical, ah.OutcomeFailure},
		{func() error { return e.OnJobSuspended(ctx, j) }, ah.ActionJobSuspended, ah.SeverityInfo, ah.OutcomeSuccess},
		{func() error { return e.OnJobStalled(ctx, j) }, ah.ActionJobStalled, ah.SeverityWarning, ah.OutcomeFailure},
	}
	for _, tc := range cases {
		if err := tc.emit(); err != nil {
			t.Fatalf("%s: %v", tc.action, err)
		}
		evt := rec.last()
		if evt == nil || evt.Action != tc.action {
			t.Fatalf("last event = %+v, want %s", evt, tc.action)
		}
		if evt.Severity != tc.severity || evt.Outcome != tc.outcome {
			t.Errorf("%s: severity=%s outcome=%s", tc.action, evt.Severity, evt.Outcome)
		}
		if evt.Resource != ah.ResourceJob || evt.ResourceID != j.ID.String() {
			t.Errorf("%s: resource %s/%s", tc.action, evt.Resource, evt.ResourceID)
		}
		if evt.Metadata["job_name"] != "send-email" || evt.Metadata["queue"] != "default" {
			t.Errorf("%s: metadata %v", tc.action, evt.Metadata)
		}
	}
	if rec.count() != len(cases) {
		t.Errorf("recorded %d events, want %d", rec.count(), len(cases))
	}
}

func TestExtension_FailedCarriesError(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	_ = e.OnJobFailed(context.Background(), newTestJob(), errors.New("smtp down"))

	evt := rec.last()
	if evt.Reason != "smtp down" || evt.Metadata["error"] != "smtp down" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Metadata["attempts"] != 1 || evt.Metadata["max_attempts"] != 3 {
		t.Errorf("attempt metadata = %v", evt.Metadata)
	}
}

func TestExtension_QueuePaused(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	_ = e.OnQueuePaused(context.Background(), "emails", time.Now().Add(time.Minute))

	evt := rec.last()
	if evt.Action != ah.ActionQueuePaused || evt.Resource != ah.ResourceQueue || evt.ResourceID != "emails" {
		t.Errorf("event = %+v", evt)
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	_ = e.OnJobFailed(ctx, j, errors.New("boom"))

	if rec.count() != 1 || rec.last().Action != ah.ActionJobFailed {
		t.Errorf("filtered events = %d", rec.count())
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	e := ah.New(ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	}), ah.WithLogger(slog.New(slog.DiscardHandler)))

	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Errorf("OnJobEnqueued = %v, want nil", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	reg.EmitJobStalled(context.Background(), newTestJob())
	if rec.count() != 1 || rec.last().Action != ah.ActionJobStalled {
		t.Errorf("registry did not dispatch to audit hook: %d events", rec.count())
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 9 {
		t.Errorf("AllActions = %d, want 9", got)
	}
}

func TestAlertRecorder_ForwardsAtOrAboveSeverity(t *testing.T) {
	sink := &alert.Recorder{}
	e := ah.New(ah.AlertRecorder(sink, ah.SeverityWarning))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobStalled(ctx, j)
	_ = e.OnJobDeadLettered(ctx, j, "bad input")

	alerts := sink.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("forwarded %d alerts, want 2", len(alerts))
	}
	if alerts[0].Severity != alert.SeverityWarning || alerts[1].Severity != alert.SeverityCritical {
		t.Errorf("severities = %s, %s", alerts[0].Severity, alerts[1].Severity)
	}
	if alerts[1].Metadata["job_id"] != j.ID.String() || alerts[1].Metadata["action"] != ah.ActionJobDeadLettered {
		t.Errorf("metadata = %v", alerts[1].Metadata)
	}
}
