// Package telemetry wraps OpenTelemetry tracing for the pipeline: one span
// per turn, with child spans for component runs (the pipeline opens one for
// each of its pre- and post-service groups, not for every component).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the OTel instrumentation scope name.
const InstrumentationName = "github.com/deeppavlov/dialgo-flow-framework"

// Tracer returns a named tracer from tp. A nil tp falls back to the global
// TracerProvider (a no-op unless the process has configured one).
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// StartTurn opens the root span for one run_turn call.
func StartTurn(ctx context.Context, tracer trace.Tracer, dialogID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dialogrt.run_turn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("dialog.id", dialogID)),
	)
}

// StartComponent opens a child span for one pipeline component run.
func StartComponent(ctx context.Context, tracer trace.Tracer, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dialogrt.component",
		trace.WithAttributes(attribute.String("component.path", path)),
	)
}

// End records err (if any) on span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
