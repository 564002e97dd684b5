// Package metrics holds the OpenTelemetry instruments of the patch engine.
//
// Instruments are created against the global meter provider, so they are
// no-ops until a host installs one (see ServePrometheus).
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("patchdispatch")

var (
	patchesTotal   metric.Int64Counter
	commandsTotal  metric.Int64Counter
	revertsTotal   metric.Int64Counter
	evictionsTotal metric.Int64Counter
	patchDuration  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// Patch outcomes.
const (
	ResultSuccess        = "success"
	ResultParseError     = "parse_error"
	ResultExecutionError = "execution_error"
)

func initMetrics() error {
	metricsOnce.Do(func() {
		defer func() {
			if metricsErr != nil {
				slog.Default().Warn("metrics unavailable", "error", metricsErr)
			}
		}()
		var err error

		patchesTotal, err = meter.Int64Counter(
			"patchdispatch_patches_total",
			metric.WithDescription("Total number of processed patches by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commandsTotal, err = meter.Int64Counter(
			"patchdispatch_commands_applied_total",
			metric.WithDescription("Total number of applied commands by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		revertsTotal, err = meter.Int64Counter(
			"patchdispatch_reverted_entries_total",
			metric.WithDescription("Total number of history entries reverted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evictionsTotal, err = meter.Int64Counter(
			"patchdispatch_history_evictions_total",
			metric.WithDescription("Total number of history entries evicted by the capacity limit"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patchDuration, err = meter.Float64Histogram(
			"patchdispatch_patch_duration_seconds",
			metric.WithDescription("Duration of patch processing in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// RecordPatch records one processed patch.
func RecordPatch(ctx context.Context, result string, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	patchesTotal.Add(ctx, 1, attrs)
	patchDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCommand records one applied command.
func RecordCommand(ctx context.Context, kind string) {
	if initMetrics() != nil {
		return
	}
	commandsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRevert records reverted and skipped entries of one revert call.
func RecordRevert(ctx context.Context, reverted, skipped int) {
	if initMetrics() != nil {
		return
	}
	revertsTotal.Add(ctx, int64(reverted), metric.WithAttributes(attribute.String("outcome", "reverted")))
	if skipped > 0 {
		revertsTotal.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("outcome", "skipped")))
	}
}

// RecordEviction records entries dropped from the history.
func RecordEviction(ctx context.Context, n int) {
	if n <= 0 || initMetrics() != nil {
		return
	}
	evictionsTotal.Add(ctx, int64(n))
}
