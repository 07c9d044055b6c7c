// Package tracing wires OpenTelemetry spans around sync manager and server
// core operations. The API shape (InitTracer/StartSpan) is reconstructed from
// the teacher's internal/tracing/tracing_test.go, since tracing.go itself was
// filtered out of the retrieval pack by its size cap — the test fully pins
// down the contract this package must satisfy.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/synckit/core")

// InitTracer configures a Jaeger-exporting TracerProvider for serviceName and
// registers it as the global provider. It returns a non-nil TracerProvider
// even when the collector endpoint is unreachable — export failures surface
// asynchronously when spans are flushed, not at construction time.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(serviceName)
	return tp, nil
}

// StartSpan starts a span named name with the given attributes, returning the
// derived context and the span. Callers must call span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
