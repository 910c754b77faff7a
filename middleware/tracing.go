package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/job"
)

// tracerName is the instrumentation scope name for conveyor tracing.
const tracerName = "github.com/xraph/conveyor"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: conveyor.job.id, conveyor.job.name, conveyor.queue,
// conveyor.attempt, conveyor.priority. Failures set codes.Error; processor
// signals are recorded as a conveyor.outcome attribute with codes.Ok.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "conveyor.job.process",
			trace.WithAttributes(
				attribute.String("conveyor.job.id", j.ID.String()),
				attribute.String("conveyor.job.name", j.Name),
				attribute.String("conveyor.queue", j.Queue),
				attribute.Int("conveyor.attempt", j.Attempts+1),
				attribute.Int("conveyor.priority", j.Options.Priority),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("conveyor.outcome", outcome))
		if isFailure(outcome) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
