// Package telemetry centralises the engine's tracing, metrics, and logging
// setup so that internal packages depend on one small surface instead of
// wiring otel/prometheus/zerolog themselves.
//
// tracing.go is adapted from the teacher's internal/tracing/tracing.go
// (same Jaeger exporter, same resource/tracer-provider shape); only the
// service identity and the component-tracer cache are new.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "vertexwalk"
	serviceVersion = "0.1.0"
)

var (
	tracerProvider *tracesdk.TracerProvider

	tracersMu sync.Mutex
	tracers   = map[string]trace.Tracer{}
)

// InitTracing wires a Jaeger exporter and registers it as the global
// provider. Called once from cmd/walker's main when tracing is enabled in
// config; a no-op tracer runs otherwise since otel.Tracer always returns a
// usable (if unrecorded) tracer.
func InitTracing(jaegerEndpoint string) error {
	if jaegerEndpoint == "" {
		jaegerEndpoint = "http://localhost:14268/api/traces"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("creating jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("building resource: %w", err)
	}

	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	return nil
}

// Shutdown flushes and stops the tracer provider, if tracing was initialised.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns (and caches) a tracer scoped to component, e.g. "csrstore"
// or "walkmgr". Safe to call whether or not InitTracing ran.
func Tracer(component string) trace.Tracer {
	tracersMu.Lock()
	defer tracersMu.Unlock()
	if t, ok := tracers[component]; ok {
		return t
	}
	t := otel.Tracer(fmt.Sprintf("%s/%s", serviceName, component))
	tracers[component] = t
	return t
}

// StartSpan starts a span with attrs attached up front, mirroring the
// teacher's helper of the same name.
func StartSpan(ctx context.Context, tracer trace.Tracer, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, operationName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError records err on the span active in ctx, if any.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}
