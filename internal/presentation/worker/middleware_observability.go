package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"
)

// WithJobContext injects a run-scoped logger for scheduled executions.
// Dynamic fields only: run_id (generated if empty), trace_id/span_id (if valid),
// plus caller-provided low-cardinality attributes (e.g. "job", "trigger").
func WithJobContext(
	ctx context.Context,
	base observability.Logger,
	span trace.SpanContext,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, len(attrs)+3)

	runID := attrs["run_id"]
	if runID == "" {
		runID = uuid.NewString()
	}
	fields = append(fields, observability.F("run_id", runID))

	if span.HasTraceID() {
		fields = append(fields, observability.F("trace_id", span.TraceID().String()))
	}
	if span.HasSpanID() {
		fields = append(fields, observability.F("span_id", span.SpanID().String()))
	}

	for k, v := range attrs {
		if k == "run_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}
