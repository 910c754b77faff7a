package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/step"
)

// registerProcessors installs the daemon's built-in processors.
func registerProcessors(eng *engine.Engine, logger *slog.Logger) {
	eng.RegisterProcessor("import-record", "", importRecord(logger))
	eng.RegisterFunc("echo", "", func(_ context.Context, _ *job.Job, p job.Payload) (any, error) {
		return p, nil
	})
}

// importRecord validates, normalises and stores one record. Progress is
// checkpointed per step so a retry resumes where the last attempt failed.
func importRecord(logger *slog.Logger) *step.Processor {
	return step.New(logger).
		Handle(step.Validate, func(_ context.Context, s *step.State) error {
			raw, ok := s.Payload["record"].(string)
			if !ok || raw == "" {
				return job.Unrecoverable(job.CorruptionError(errors.New("invalid payload: record must be a non-empty string")))
			}
			return nil
		}).
		Handle(step.Transform, func(ctx context.Context, s *step.State) error {
			raw, _ := s.Payload["record"].(string)
			return s.Save(ctx, "normalised", strings.ToUpper(strings.TrimSpace(raw)))
		}).
		Handle(step.Save, func(_ context.Context, s *step.State) error {
			v, ok := s.Load("normalised")
			if !ok {
				return fmt.Errorf("save: missing normalised record")
			}
			s.Result = map[string]any{"record": v}
			return nil
		}).
		Handle(step.Notify, func(_ context.Context, s *step.State) error {
			logger.Info("record imported",
				slog.String("job_id", s.Job.ID.String()),
				slog.Int("attempt", s.Job.Attempts),
			)
			return nil
		})
}
