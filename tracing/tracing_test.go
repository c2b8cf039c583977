package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoop(t *testing.T) {
	_, span := Noop().Start(context.Background(), "x")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit(t *testing.T) {
	shutdown, err := Init(context.Background(), "convoflow-test", "http://127.0.0.1:4318")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := Tracer().Start(context.Background(), "runner.agent")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestRecorder(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer(InstrumentationName).Start(context.Background(), "runner.tools")
	span.End()
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "runner.tools", rec.Ended()[0].Name())
}
