package telemetry_test

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeppavlov/dialgo-flow-framework/telemetry"
)

func TestStartTurn_RecordsDialogID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := telemetry.Tracer(tp)

	ctx, span := telemetry.StartTurn(context.Background(), tracer, "dlg-1")
	telemetry.End(span, nil)
	require.NotNil(t, ctx)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dialogrt.run_turn", spans[0].Name())
}

func TestEnd_RecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := telemetry.Tracer(tp)

	_, span := telemetry.StartComponent(context.Background(), tracer, "pre.guard")
	telemetry.End(span, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
