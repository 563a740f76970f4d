package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProviderDefaultsToNoExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")

	p, err := NewProvider(context.Background(), "novaadaptd-test")
	require.NoError(t, err)
	require.NotNil(t, p.Tracer("test"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderWithStdoutExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	p, err := NewProvider(context.Background(), "novaadaptd-test")
	require.NoError(t, err)

	tracer := p.Tracer("test")
	_, span := tracer.Start(context.Background(), "unit-test-span")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}
