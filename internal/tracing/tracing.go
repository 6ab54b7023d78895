// Package tracing sets up OpenTelemetry spans for runs and step attempts.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	WorkflowIDKey   = "rpaflow.workflow.id"
	WorkflowNameKey = "rpaflow.workflow.name"
	RunIDKey        = "rpaflow.run.id"
	TriggerKey      = "rpaflow.run.trigger"
	StepIDKey       = "rpaflow.step.id"
	ActionTypeKey   = "rpaflow.action.type"
	AttemptKey      = "rpaflow.step.attempt"
	WorkerIDKey     = "rpaflow.worker.id"
)

// Setup returns a tracer exporting over OTLP/HTTP to endpoint. With an empty
// endpoint it returns a no-op tracer. The returned function flushes and stops
// the exporter.
func Setup(ctx context.Context, serviceName, endpoint string) (trace.Tracer, func(context.Context) error, error) {
	if endpoint == "" {
		return Noop(), func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, err
	}
	r, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp.Tracer(serviceName), tp.Shutdown, nil
}

// nolint:ireturn
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer("rpaflow")
}

// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
