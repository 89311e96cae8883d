package tracker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mantis2ado/mantis2ado/internal/telemetry"
	"github.com/mantis2ado/mantis2ado/internal/tracker"
	"github.com/mantis2ado/mantis2ado/internal/tracker/testutil"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

func TestWrapTargetDisabled(t *testing.T) {
	require.NoError(t, telemetry.Init(context.Background(), telemetry.Options{}))
	mem := testutil.NewMemTarget()
	assert.Same(t, mem, tracker.WrapTarget(mem))
}

func TestWrapTargetRecordsSpans(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	require.NoError(t, telemetry.Init(context.Background(), telemetry.Options{Enabled: true}))
	t.Cleanup(func() { _ = telemetry.Shutdown(context.Background()) })
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	mem := testutil.NewMemTarget()
	target := tracker.WrapTarget(mem)
	require.IsType(t, &tracker.InstrumentedTarget{}, target)
	assert.Equal(t, "memory", target.Name())

	ctx := context.Background()
	item, err := target.CreateWorkItem(ctx, types.TypeBug, types.WorkItemFields{Title: "x", Tags: []string{"Mantis-1"}})
	require.NoError(t, err)
	found, err := target.FindByTag(ctx, "Mantis-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, item.ID, found[0].ID)

	_, err = target.ListComments(ctx, 9999)
	require.Error(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "target.CreateWorkItem", spans[0].Name)
	assert.Equal(t, "target.FindByTag", spans[1].Name)
	assert.Equal(t, "target.ListComments", spans[2].Name)
	assert.Equal(t, codes.Error, spans[2].Status.Code)
	assert.Len(t, mem.CallsOf("CreateWorkItem"), 1)
}
