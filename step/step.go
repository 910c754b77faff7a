// Package step builds resumable processors out of a fixed sequence of
// named steps: initial, validate, transform, save, notify, finished.
//
// After each step the next step's name is saved in the job checkpoint, so
// a retried job starts at the step that failed instead of from scratch.
// Steps without a handler are skipped. Values a step wants later steps to
// see after a retry go through [State.Save].
package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xraph/conveyor/job"
)

// Name identifies a step.
type Name string

const (
	Initial   Name = "initial"
	Validate  Name = "validate"
	Transform Name = "transform"
	Save      Name = "save"
	Notify    Name = "notify"
	Finished  Name = "finished"
)

// Order is the fixed step sequence.
var Order = []Name{Initial, Validate, Transform, Save, Notify, Finished}

// CheckpointKey is the checkpoint entry holding the next step to run.
const CheckpointKey = "step"

const valuePrefix = "step."

// Func runs one step.
type Func func(ctx context.Context, s *State) error

// State is what steps share during one attempt.
type State struct {
	Job     *job.Job
	Payload job.Payload
	// Result is returned as the job result once every step passed.
	Result any

	values map[string]any
}

// Save stores a value for later steps and persists it in the checkpoint.
func (s *State) Save(ctx context.Context, key string, value any) error {
	s.values[key] = value
	return ignoreNoReporter(job.SaveCheckpoint(ctx, valuePrefix+key, value))
}

// Load returns a value saved by this or an earlier attempt.
func (s *State) Load(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Processor runs the step sequence. It implements job.Processor.
type Processor struct {
	steps  map[Name]Func
	logger *slog.Logger
}

var _ job.Processor = (*Processor)(nil)

// New returns an empty Processor.
func New(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{steps: make(map[Name]Func), logger: logger}
}

// Handle sets the function for a step. Finished takes no handler.
func (p *Processor) Handle(name Name, fn Func) *Processor {
	if name == Finished || !slices.Contains(Order, name) {
		panic(fmt.Sprintf("step: cannot handle step %q", name))
	}
	p.steps[name] = fn
	return p
}

// Current returns the step a job will resume at.
func Current(j *job.Job) Name {
	if v, ok := j.Checkpoint[CheckpointKey].(string); ok && slices.Contains(Order, Name(v)) {
		return Name(v)
	}
	return Initial
}

// Process implements job.Processor.
func (p *Processor) Process(ctx context.Context, j *job.Job, payload job.Payload) (any, error) {
	state := &State{Job: j, Payload: payload, values: make(map[string]any)}
	for k, v := range j.Checkpoint {
		if name, ok := strings.CutPrefix(k, valuePrefix); ok && name != "" {
			state.values[name] = v
		}
	}

	start := slices.Index(Order, Current(j))
	if start > 0 {
		p.logger.Debug("resuming job at step",
			slog.String("job_id", j.ID.String()),
			slog.String("step", string(Order[start])),
		)
	}

	last := len(Order) - 1
	for i := start; i < last; i++ {
		name := Order[i]
		if fn := p.steps[name]; fn != nil {
			if err := fn(ctx, state); err != nil {
				return nil, fmt.Errorf("step %s: %w", name, err)
			}
		}

		next := Order[i+1]
		if err := ignoreNoReporter(job.SaveCheckpoint(ctx, CheckpointKey, string(next))); err != nil {
			return nil, fmt.Errorf("step %s: save checkpoint: %w", name, err)
		}
		if next != Finished {
			if err := ignoreNoReporter(job.ReportProgress(ctx, (i+1)*100/last)); err != nil {
				return nil, fmt.Errorf("step %s: report progress: %w", name, err)
			}
		}
	}
	return state.Result, nil
}

func ignoreNoReporter(err error) error {
	if errors.Is(err, job.ErrNoReporter) {
		return nil
	}
	return err
}
