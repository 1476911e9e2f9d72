package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nomis52/goswarm/swarm"
)

func restoreProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestSetup_None(t *testing.T) {
	restoreProvider(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetup_Stdout(t *testing.T) {
	restoreProvider(t)
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), Config{
		Exporter:       ExporterStdout,
		ServiceName:    "goswarm-test",
		ServiceVersion: "v0.0.1",
	}, WithWriter(&buf))
	require.NoError(t, err)

	o := swarm.New("traced")
	require.NoError(t, o.AddWorker(swarm.WorkerFunc{WorkerName: "w", Fn: func(ctx context.Context, _ string, _ *swarm.ExecutionContext) (any, error) {
		assert.True(t, trace.SpanContextFromContext(ctx).IsValid(), "worker runs inside a span")
		return "ok", nil
	}}))
	_, err = o.ExecuteSwarm(context.Background(), "task", nil)
	require.NoError(t, err)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "swarm.execute")
	assert.Contains(t, out, "swarm.worker")
	assert.Contains(t, out, "goswarm-test")
}

func TestSetup_OTLP(t *testing.T) {
	restoreProvider(t)

	shutdown, err := Setup(context.Background(), Config{
		Exporter:    ExporterOTLP,
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		ServiceName: "goswarm-test",
	})
	require.NoError(t, err, "the gRPC exporter connects lazily")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorContains(t, err, `unknown trace exporter "zipkin"`)
}
