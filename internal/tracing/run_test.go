package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp
}

func TestCommand_RecordsSuccess(t *testing.T) {
	recorder, tp := newRecorder(t)

	var traceID string
	err := Command(context.Background(), tp.Tracer("test"), "convert", func(ctx context.Context) error {
		traceID = TraceID(ctx)
		Annotate(ctx, attribute.Int(AttrDataEntries, 3))
		Event(ctx, EventConfigLoaded)
		return nil
	}, attribute.String(AttrSnapshotPath, "in.json"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "command.convert", span.Name())
	require.Equal(t, codes.Ok, span.Status().Code)
	require.Equal(t, span.SpanContext().TraceID().String(), traceID)

	attrs := attrMap(span.Attributes())
	require.Equal(t, "convert", attrs[AttrCommand])
	require.Equal(t, "in.json", attrs[AttrSnapshotPath])
	require.Equal(t, int64(3), attrs[AttrDataEntries])

	require.Len(t, span.Events(), 1)
	require.Equal(t, EventConfigLoaded, span.Events()[0].Name)
}

func TestCommand_RecordsError(t *testing.T) {
	recorder, tp := newRecorder(t)
	boom := errors.New("boom")

	err := Command(context.Background(), tp.Tracer("test"), "check", func(ctx context.Context) error {
		return Phase(ctx, PhaseImport, func(context.Context) error { return boom })
	})
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		require.Equal(t, codes.Error, s.Status().Code, s.Name())
		require.Equal(t, "boom", s.Status().Description)
	}
	require.Equal(t, "phase.import", spans[0].Name())
	require.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestPhase_WithoutParentIsNoop(t *testing.T) {
	called := false
	err := Phase(context.Background(), PhaseWrite, func(ctx context.Context) error {
		called = true
		require.Equal(t, "", TraceID(ctx))
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}
