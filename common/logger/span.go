package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sendguard"

// SpanContext wraps an OTel span for managed lifecycle.
// Use StartSpan() to begin a span and End() to complete it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a new span as a child of the current trace context.
// Returns a SpanContext that must be ended with End().
//
// Example:
//
//	sc := logger.StartSpan(ctx, "worker.domain_health_check")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// Context returns the context carrying the active span.
func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// Span returns the underlying span for attribute/error recording.
func (sc *SpanContext) Span() trace.Span {
	return sc.span
}

// RecordError records err on the span. Nil errors are ignored.
func (sc *SpanContext) RecordError(err error) {
	if err != nil {
		sc.span.RecordError(err)
	}
}

// End completes the span.
func (sc *SpanContext) End() {
	sc.span.End()
}
