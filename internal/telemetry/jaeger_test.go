package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_RecordsSpansWithServiceName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := newProvider("relay-test", "0.0.1", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "Controller.Join")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Controller.Join", ended[0].Name())

	found := false
	for _, attr := range ended[0].Resource().Attributes() {
		if attr.Key == "service.name" {
			found = true
			assert.Equal(t, "relay-test", attr.Value.AsString())
		}
	}
	assert.True(t, found, "service.name resource attribute should be set")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop(context.Background()))
}
