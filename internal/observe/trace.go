package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes. Each subsystem records its spans under its own
// tracer so they can be filtered per component.
const (
	ScopeHTTP        = "github.com/MrWong99/voxtutor/internal/observe/http"
	ScopeRecognition = "github.com/MrWong99/voxtutor/internal/recognition"
	ScopeEvaluation  = "github.com/MrWong99/voxtutor/internal/evaluation"
)

// Tracer returns the tracer for scope from the global provider.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}

type runIDKey struct{}

// StartRun starts the span of one recognition run and records runID on the
// returned context, so [Logger] tags every line logged for the run.
func StartRun(ctx context.Context, runID, backend string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	return Tracer(ScopeRecognition).Start(ctx, "recognition.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.backend", backend),
		),
	)
}

// StartAttempt starts the span of one evaluation attempt for expected.
func StartAttempt(ctx context.Context, expected string) (context.Context, trace.Span) {
	return Tracer(ScopeEvaluation).Start(ctx, "evaluation.attempt",
		trace.WithAttributes(attribute.String("attempt.expected", expected)),
	)
}

// RunID returns the recognition run ID recorded by [StartRun], or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base enriched with trace_id and span_id from the span in
// ctx, and with run_id inside a recognition run. A nil base means
// [slog.Default]. With neither present, base is returned unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunID(ctx); id != "" {
		attrs = append(attrs, slog.String("run_id", id))
	}
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}
