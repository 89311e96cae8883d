package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	require.NoError(t, Init(context.Background(), Options{}))
	assert.False(t, Enabled())

	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid(), "no-op tracer should produce invalid span contexts")
	span.End()
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitStdoutExportsSpans(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	var buf bytes.Buffer
	ctx := context.Background()

	require.NoError(t, Init(ctx, Options{Enabled: true, Stdout: true, Writer: &buf, Version: "test"}))
	t.Cleanup(func() { _ = Init(ctx, Options{}) })
	assert.True(t, Enabled())

	_, span := Tracer("migrate").Start(ctx, "migrate.issue")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	counter, err := Meter("").Int64Counter("mantis2ado.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	require.NoError(t, Shutdown(ctx))
	assert.False(t, Enabled())
	assert.Contains(t, buf.String(), "migrate.issue")
	assert.Contains(t, buf.String(), "mantis2ado.test.count")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
