package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/clock"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	mw "github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/scheduler"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/worker"
)

const instrumentationName = "github.com/xraph/conveyor"

// Engine owns every conveyor subsystem built over one store.
type Engine struct {
	store      store.Store
	cfg        conveyor.Config
	clock      clock.Clock
	logger     *slog.Logger
	extensions *ext.Registry
	processors *job.Registry
	queues     *queue.Registry
	alerts     alert.Sender

	scheduler *scheduler.Scheduler
	manager   *worker.Manager
	dlq       *dlq.Handler

	mws          []mw.Middleware
	queueConfigs []queue.Config
	pending      []ext.Extension
	dlqOpts      []dlq.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime tuning. Defaults to conveyor.DefaultConfig.
func WithConfig(cfg conveyor.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the clock shared by every subsystem.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default recover, tracing, metrics and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQueueConfig registers queue configurations. Jobs can only be
// scheduled on registered queues.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithAlerts sets the operator alert sender. Defaults to logging.
func WithAlerts(s alert.Sender) Option {
	return func(eng *Engine) { eng.alerts = s }
}

// WithDLQOptions passes extra options to the dead letter handler, such as
// dlq.WithClassifier or dlq.WithPriorityPenalty.
func WithDLQOptions(opts ...dlq.Option) Option {
	return func(eng *Engine) { eng.dlqOpts = append(eng.dlqOpts, opts...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over s. It does not run migrations; call
// s.Migrate first.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, conveyor.ErrNoStore
	}

	eng := &Engine{
		store:      s,
		cfg:        conveyor.DefaultConfig(),
		clock:      clock.System{},
		logger:     slog.Default(),
		processors: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.alerts == nil {
		eng.alerts = alert.NewLogSender(eng.logger)
	}

	eng.queues = queue.NewRegistry()
	for _, cfg := range eng.queueConfigs {
		if err := eng.queues.Put(cfg); err != nil {
			return nil, fmt.Errorf("register queue %q: %w", cfg.Name, err)
		}
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}

	eng.scheduler = scheduler.New(eng.queues, s,
		scheduler.WithClock(eng.clock),
		scheduler.WithLogger(eng.logger),
	)

	served := eng.cfg.Queues
	if len(served) == 0 {
		served = eng.queues.Names()
	}
	eng.manager = worker.New(s, eng.queues, eng.processors,
		worker.WithConfig(eng.cfg),
		worker.WithQueues(served...),
		worker.WithClock(eng.clock),
		worker.WithLogger(eng.logger),
		worker.WithExtensions(eng.extensions),
		worker.WithAlerts(eng.alerts),
		worker.WithMiddleware(eng.middleware()...),
	)

	dlqOpts := []dlq.Option{
		dlq.WithConfig(eng.cfg),
		dlq.WithAlerts(eng.alerts),
		dlq.WithClock(eng.clock),
		dlq.WithLogger(eng.logger),
	}
	eng.dlq = dlq.NewHandler(s, s, eng.manager, append(dlqOpts, eng.dlqOpts...)...)

	return eng, nil
}

// middleware builds the default stack: recover → tracing → metrics →
// logging, followed by user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	var tracing mw.Middleware
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracing = mw.Tracing()
	}

	var metrics mw.Middleware
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metrics = mw.Metrics()
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
	}
	return append(all, eng.mws...)
}

// ──────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.processors, def)
}

// RegisterProcessor registers p for (name, queue). An empty queue serves
// every queue.
func (eng *Engine) RegisterProcessor(name, queue string, p job.Processor) {
	eng.processors.Register(name, queue, p)
}

// RegisterFunc registers a plain function as a processor.
func (eng *Engine) RegisterFunc(name, queue string, fn job.ProcessorFunc) {
	eng.processors.Register(name, queue, fn)
}

// ──────────────────────────────────────────────────
// Scheduling
// ──────────────────────────────────────────────────

// Schedule creates a job on queueName and hands it to the queue manager.
func (eng *Engine) Schedule(ctx context.Context, name, queueName string, payload job.Payload, opts ...job.Option) (*job.Job, error) {
	j, err := eng.scheduler.ScheduleJob(ctx, name, queueName, payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.manager.Enqueue(ctx, j); err != nil {
		if errors.Is(err, conveyor.ErrManagerStopped) {
			// Persisted; another process or a later Start will pick it up.
			return j, nil
		}
		return nil, err
	}
	return j, nil
}

// Enqueue encodes payload as JSON and schedules a job with it.
func Enqueue[T any](ctx context.Context, eng *Engine, name, queueName string, payload T, opts ...job.Option) (*job.Job, error) {
	p, err := job.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for job %q: %w", name, err)
	}
	return eng.Schedule(ctx, name, queueName, p, opts...)
}

// Cancel cancels a job. See worker.Manager.Cancel.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	return eng.manager.Cancel(ctx, jobID)
}

// Job returns the current state of a job.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Stats returns dispatch statistics for a queue.
func (eng *Engine) Stats(queueName string) worker.QueueStats {
	return eng.manager.Stats(queueName)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins dispatch and schedules dead letter sweeps.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.manager.Start(ctx); err != nil {
		return fmt.Errorf("start queue manager: %w", err)
	}
	if err := eng.dlq.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eng.cfg.ShutdownTimeout)
		defer cancel()
		_ = eng.manager.Stop(stopCtx)
		return fmt.Errorf("start dead letter handler: %w", err)
	}
	eng.logger.Info("engine started",
		slog.String("worker_id", eng.manager.WorkerID().String()),
		slog.Int("queues", len(eng.queues.Names())),
	)
	return nil
}

// Stop stops sweeps and drains the queue manager. When ctx has no
// deadline, ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	start := time.Now()
	var g errgroup.Group
	g.Go(func() error { return eng.dlq.Stop(ctx) })
	g.Go(func() error { return eng.manager.Stop(ctx) })
	err := g.Wait()

	eng.logger.Info("engine stopped", slog.Duration("elapsed", time.Since(start)))
	return err
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the processor registry.
func (eng *Engine) Registry() *job.Registry { return eng.processors }

// Queues returns the queue config registry. Changes apply at the next
// dispatch attempt.
func (eng *Engine) Queues() *queue.Registry { return eng.queues }

// Scheduler returns the job scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Manager returns the queue manager.
func (eng *Engine) Manager() *worker.Manager { return eng.manager }

// DLQ returns the dead letter handler.
func (eng *Engine) DLQ() *dlq.Handler { return eng.dlq }
