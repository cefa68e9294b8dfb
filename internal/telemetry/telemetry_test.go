package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name")
}

func TestInitWithoutEndpointIsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "guild"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerProviderExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	tp, shutdown, err := newTracerProviderWithExporter(exporter, Config{
		ServiceName:    "guild",
		ServiceVersion: "test",
	})
	require.NoError(t, err)

	_, span := tp.Tracer("guild/test").Start(context.Background(), "task.dispatch")
	span.End()

	require.NoError(t, shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "task.dispatch", spans[0].Name)

	var foundService bool
	for _, attr := range spans[0].Resource.Attributes() {
		if string(attr.Key) == "service.name" && attr.Value.AsString() == "guild" {
			foundService = true
		}
	}
	assert.True(t, foundService, "resource should carry the service name")
}
