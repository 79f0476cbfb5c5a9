package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Command runs fn inside a root span named after the command. The error
// returned by fn is recorded on the span and returned unchanged.
func Command(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	attrs = append(attrs, attribute.String(AttrCommand, name))
	return run(ctx, tracer, SpanPrefixCommand+name, fn, attrs)
}

// Phase runs fn inside a child span of the span carried by ctx, using that
// span's tracer provider. Without a recording parent the span is a no-op.
func Phase(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(DefaultServiceName)
	return run(ctx, tracer, SpanPrefixPhase+name, fn, attrs)
}

func run(ctx context.Context, tracer trace.Tracer, spanName string, fn func(ctx context.Context) error, attrs []attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Annotate adds attributes to the span carried by ctx.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Event records a named event on the span carried by ctx.
func Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the trace id of the span carried by ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
