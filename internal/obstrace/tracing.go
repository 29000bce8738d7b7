// Package obstrace provides the distributed-tracing instrumentation for the
// mcz dictionary-compression engine.
package obstrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "mcz"
	serviceVersion = "1.0.0"
)

// Tracing owns one tracer provider for the lifetime of an Engine. It is
// never a package-level singleton: callers construct one and thread it
// through the entry points that need spans.
type Tracing struct {
	provider *tracesdk.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracing handle. An empty jaegerEndpoint disables export and
// falls back to otel's no-op tracer so hot paths never block on a collector
// that isn't there.
func New(jaegerEndpoint string) (*Tracing, error) {
	if jaegerEndpoint == "" {
		return &Tracing{tracer: otel.Tracer(serviceName)}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("mcz: create jaeger exporter: %w", err)
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
		return nil, fmt.Errorf("mcz: build resource: %w", err)
	}

	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)

	return &Tracing{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// Shutdown flushes and tears down the tracer provider, if one was created.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartSpan starts a span under this Tracing's tracer.
func (t *Tracing) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, operation)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError records err on the span carried by ctx, if any.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}
