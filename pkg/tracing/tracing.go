// Package tracing sets up an OpenTelemetry tracer provider for request
// spans, zero-configuration by default and switching to an OTLP/HTTP or
// stdout exporter via environment variables, the way
// itsneelabh-gomind/pkg/telemetry/otel.go auto-configures OTEL.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps a configured tracer provider so callers can shut it
// down cleanly and fetch a tracer for request spans.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a tracer provider for serviceName. Exporter
// selection is environment-driven:
//   - OTEL_EXPORTER_OTLP_ENDPOINT set: OTLP/HTTP exporter to that endpoint.
//   - OTEL_TRACES_EXPORTER=stdout: human-readable stdout exporter (tests,
//     local development).
//   - neither: spans are created but never exported (zero-config default,
//     same shape as the disabled path in the pack's OTEL auto-setup).
func NewProvider(ctx context.Context, serviceName string) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("tracing: build OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else if os.Getenv("OTEL_TRACES_EXPORTER") == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: build stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &Provider{tp: tp}, nil
}

// Tracer returns a named tracer from this provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes and stops the underlying tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
