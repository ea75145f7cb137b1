package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/perfscope/monitor/types"
)

// degradedNotesPrefix marks the collector's degraded-source record in the
// run notes.
const degradedNotesPrefix = "degraded sources: "

// DegradedNotes formats the degraded-source record written by the collector.
func DegradedNotes(sources []string) string {
	return degradedNotesPrefix + strings.Join(sources, ",")
}

// GetRunSummary aggregates the stored metrics of one run.
func (d *Database) GetRunSummary(ctx context.Context, id string) (*types.RunSummary, error) {
	run, err := d.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := &types.RunSummary{Run: run}
	if rest, ok := strings.CutPrefix(run.Notes, degradedNotesPrefix); ok {
		summary.DegradedSources = strings.Split(rest, ",")
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(cpu_percent), 0), COALESCE(MAX(cpu_percent), 0)
		FROM server_metrics WHERE run_id = $1`, id).
		Scan(&summary.ServerSamples, &summary.AvgCPUPercent, &summary.MaxCPUPercent)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate server metrics: %w", err)
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(heap_used_mb), 0)
		FROM jvm_metrics WHERE run_id = $1`, id).
		Scan(&summary.JVMSamples, &summary.AvgHeapUsedMB)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jvm metrics: %w", err)
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(avg_response_ms), 0),
			COALESCE(SUM(errors_per_min), 0), COALESCE(AVG(error_percent), 0)
		FROM application_metrics WHERE run_id = $1`, id).
		Scan(&summary.AppSamples, &summary.AvgResponseMs,
			&summary.TotalErrorsPerMin, &summary.ErrorPercent)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate application metrics: %w", err)
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(p95_response_ms), 0)
		FROM api_metrics WHERE run_id = $1`, id).
		Scan(&summary.APISamples, &summary.MaxP95ResponseMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate api metrics: %w", err)
	}

	return summary, nil
}

// CompareRuns computes summary deltas between two runs (other minus base).
func (d *Database) CompareRuns(ctx context.Context, baseID, otherID string) (*types.RunComparison, error) {
	base, err := d.GetRunSummary(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize base run: %w", err)
	}

	other, err := d.GetRunSummary(ctx, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize other run: %w", err)
	}

	return &types.RunComparison{
		Base:             base,
		Other:            other,
		AvgResponseDelta: other.AvgResponseMs - base.AvgResponseMs,
		ErrorRateDelta:   other.ErrorPercent - base.ErrorPercent,
		AvgCPUDelta:      other.AvgCPUPercent - base.AvgCPUPercent,
		AvgHeapDelta:     other.AvgHeapUsedMB - base.AvgHeapUsedMB,
	}, nil
}
