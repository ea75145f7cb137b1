package storage

import (
	"context"
	"time"

	"github.com/perfscope/monitor/types"
)

// Store is the persistence surface used by the collector and the API.
type Store interface {
	InsertRun(ctx context.Context, run *types.TestRun) error
	UpdateRunStatus(ctx context.Context, id, status string, completedAt *time.Time) error
	UpdateRunNotes(ctx context.Context, id, notes string) error
	GetRun(ctx context.Context, id string) (*types.TestRun, error)
	ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.TestRun, error)
	DeleteRun(ctx context.Context, id string) error
	DeleteOldRuns(ctx context.Context, before time.Time) (int64, error)

	InsertServerMetrics(ctx context.Context, metrics []types.ServerMetric) error
	InsertJVMMetrics(ctx context.Context, metrics []types.JVMMetric) error
	InsertApplicationMetrics(ctx context.Context, metrics []types.ApplicationMetric) error
	InsertAPIMetrics(ctx context.Context, metrics []types.APIMetric) error

	QueryServerMetrics(ctx context.Context, q types.MetricQuery) ([]types.ServerMetric, error)
	QueryJVMMetrics(ctx context.Context, q types.MetricQuery) ([]types.JVMMetric, error)
	QueryApplicationMetrics(ctx context.Context, q types.MetricQuery) ([]types.ApplicationMetric, error)
	QueryAPIMetrics(ctx context.Context, q types.MetricQuery) ([]types.APIMetric, error)

	GetRunSummary(ctx context.Context, id string) (*types.RunSummary, error)
	CompareRuns(ctx context.Context, baseID, otherID string) (*types.RunComparison, error)
}
