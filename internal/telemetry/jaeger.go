package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: TRACING THE RELAY

Every websocket event handled by the lifecycle controller opens a span, so a
join that fans out to a room shows up in Jaeger together with the HTTP
upgrade that created the connection.

  Controller → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector
*/

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// Noop is returned when tracing is disabled
func Noop(context.Context) error { return nil }

// InitJaeger initializes the Jaeger tracing exporter and installs the global
// tracer provider. The returned function must be called on shutdown.
func InitJaeger(serviceName, version, jaegerEndpoint string) (ShutdownFunc, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	tp, err := newProvider(serviceName, version, sdktrace.WithBatcher(exp))
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// newProvider builds a tracer provider tagged with the service identity
func newProvider(serviceName, version string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	return sdktrace.NewTracerProvider(opts...), nil
}
