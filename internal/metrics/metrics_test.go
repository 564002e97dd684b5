package metrics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordersReachInstalledProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	ctx := context.Background()
	RecordPatch(ctx, ResultSuccess, 10*time.Millisecond)
	RecordCommand(ctx, "INSERT")
	RecordRevert(ctx, 2, 1)
	RecordEviction(ctx, 3)
	RecordEviction(ctx, 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{
		"patchdispatch_patches_total",
		"patchdispatch_commands_applied_total",
		"patchdispatch_reverted_entries_total",
		"patchdispatch_history_evictions_total",
		"patchdispatch_patch_duration_seconds",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestServePrometheusStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- ServePrometheus(ctx, "127.0.0.1:0", logger) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
