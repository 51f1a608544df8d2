package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for sync spans.
const TracerName = "meetsync"

// Span attribute keys
const (
	AttrRunID      = "run_id"
	AttrPlatform   = "platform"
	AttrExternalID = "external_id"
	AttrDryRun     = "dry_run"
	AttrOutcome    = "outcome"
	AttrErrorCode  = "error_code"
	AttrRetryable  = "retryable"
)

// Span names
const (
	SpanRun      = "meetsync.run"
	SpanPlatform = "meetsync.platform"
	SpanMeeting  = "meetsync.meeting"
)

// Tracer starts spans for runs, platform passes and meetings.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer using the global provider. Without a configured
// provider spans are no-ops.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider returns a Tracer using tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartRunSpan starts the root span of a sync run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string, dryRun bool) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.Bool(AttrDryRun, dryRun),
		),
	)
}

// StartPlatformSpan starts a span for one platform pass.
func (t *Tracer) StartPlatformSpan(ctx context.Context, platform string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanPlatform,
		trace.WithAttributes(attribute.String(AttrPlatform, platform)),
	)
}

// StartMeetingSpan starts a span for processing one meeting.
func (t *Tracer) StartMeetingSpan(ctx context.Context, platform, externalID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanMeeting,
		trace.WithAttributes(
			attribute.String(AttrPlatform, platform),
			attribute.String(AttrExternalID, externalID),
		),
	)
}

// SpanHelper sets common attributes on a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper wraps span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetOutcome records how a meeting was handled.
func (h *SpanHelper) SetOutcome(outcome string) {
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetError records err on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
