package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/perfscope/monitor/types"
)

// InsertServerMetrics batch-inserts hardware samples.
func (d *Database) InsertServerMetrics(ctx context.Context, metrics []types.ServerMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO server_metrics (
			run_id, time, host, tier, cpu_percent, memory_percent, memory_used_mb,
			disk_read_kbps, disk_write_kbps, network_in_kbps, network_out_kbps, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	return d.batchInsert(ctx, query, len(metrics), func(stmt *sql.Stmt, i int) error {
		m := metrics[i]
		_, err := stmt.ExecContext(ctx,
			m.RunID, m.Time, m.Host, m.Tier, m.CPUPercent, m.MemoryPercent,
			m.MemoryUsedMB, m.DiskReadKBps, m.DiskWriteKBps,
			m.NetworkInKBps, m.NetworkOutKBps, m.Source,
		)
		return err
	})
}

// InsertJVMMetrics batch-inserts JVM samples.
func (d *Database) InsertJVMMetrics(ctx context.Context, metrics []types.JVMMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO jvm_metrics (
			run_id, time, tier, node, heap_used_mb, heap_committed_mb, heap_max_mb,
			gc_time_ms, gc_count, thread_count, class_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	return d.batchInsert(ctx, query, len(metrics), func(stmt *sql.Stmt, i int) error {
		m := metrics[i]
		_, err := stmt.ExecContext(ctx,
			m.RunID, m.Time, m.Tier, m.Node, m.HeapUsedMB, m.HeapCommittedMB,
			m.HeapMaxMB, m.GCTimeMs, m.GCCount, m.ThreadCount, m.ClassCount,
		)
		return err
	})
}

// InsertApplicationMetrics batch-inserts overall-performance samples.
func (d *Database) InsertApplicationMetrics(ctx context.Context, metrics []types.ApplicationMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO application_metrics (
			run_id, time, application, tier, calls_per_min, avg_response_ms,
			errors_per_min, error_percent, slow_calls, stall_count, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	return d.batchInsert(ctx, query, len(metrics), func(stmt *sql.Stmt, i int) error {
		m := metrics[i]
		_, err := stmt.ExecContext(ctx,
			m.RunID, m.Time, m.Application, m.Tier, m.CallsPerMin, m.AvgResponseMs,
			m.ErrorsPerMin, m.ErrorPercent, m.SlowCalls, m.StallCount, m.Source,
		)
		return err
	})
}

// InsertAPIMetrics batch-inserts per-endpoint samples.
func (d *Database) InsertAPIMetrics(ctx context.Context, metrics []types.APIMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO api_metrics (
			run_id, time, endpoint, tier, calls_per_min, avg_response_ms,
			p95_response_ms, max_response_ms, errors_per_min, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	return d.batchInsert(ctx, query, len(metrics), func(stmt *sql.Stmt, i int) error {
		m := metrics[i]
		_, err := stmt.ExecContext(ctx,
			m.RunID, m.Time, m.Endpoint, m.Tier, m.CallsPerMin, m.AvgResponseMs,
			m.P95ResponseMs, m.MaxResponseMs, m.ErrorsPerMin, m.Source,
		)
		return err
	})
}

// batchInsert runs one prepared statement for n rows inside a transaction.
func (d *Database) batchInsert(ctx context.Context, query string, n int, exec func(stmt *sql.Stmt, i int) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	d.log.WithField("count", n).Debug("Inserted metric batch")
	return nil
}

// metricWhere builds the shared WHERE clause for per-table metric queries.
func metricWhere(q types.MetricQuery, tierColumn string) (string, []interface{}) {
	where := " WHERE run_id = $1"
	args := []interface{}{q.RunID}
	argCount := 2

	if q.Tier != "" && tierColumn != "" {
		where += fmt.Sprintf(" AND %s = $%d", tierColumn, argCount)
		args = append(args, q.Tier)
		argCount++
	}

	if !q.Since.IsZero() {
		where += fmt.Sprintf(" AND time >= $%d", argCount)
		args = append(args, q.Since)
		argCount++
	}

	if !q.Until.IsZero() {
		where += fmt.Sprintf(" AND time < $%d", argCount)
		args = append(args, q.Until)
		argCount++
	}

	return where, args
}

// QueryServerMetrics returns hardware samples for a run.
func (d *Database) QueryServerMetrics(ctx context.Context, q types.MetricQuery) ([]types.ServerMetric, error) {
	query := `
		SELECT run_id, time, host, tier, cpu_percent, memory_percent, memory_used_mb,
			disk_read_kbps, disk_write_kbps, network_in_kbps, network_out_kbps, source
		FROM server_metrics`

	where, args := metricWhere(q, "tier")
	if q.Host != "" {
		where += fmt.Sprintf(" AND host = $%d", len(args)+1)
		args = append(args, q.Host)
	}
	query += where + " ORDER BY time ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query server metrics: %w", err)
	}
	defer rows.Close()

	var metrics []types.ServerMetric
	for rows.Next() {
		var m types.ServerMetric
		err := rows.Scan(
			&m.RunID, &m.Time, &m.Host, &m.Tier, &m.CPUPercent, &m.MemoryPercent,
			&m.MemoryUsedMB, &m.DiskReadKBps, &m.DiskWriteKBps,
			&m.NetworkInKBps, &m.NetworkOutKBps, &m.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

// QueryJVMMetrics returns JVM samples for a run.
func (d *Database) QueryJVMMetrics(ctx context.Context, q types.MetricQuery) ([]types.JVMMetric, error) {
	query := `
		SELECT run_id, time, tier, node, heap_used_mb, heap_committed_mb, heap_max_mb,
			gc_time_ms, gc_count, thread_count, class_count
		FROM jvm_metrics`

	where, args := metricWhere(q, "tier")
	query += where + " ORDER BY time ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jvm metrics: %w", err)
	}
	defer rows.Close()

	var metrics []types.JVMMetric
	for rows.Next() {
		var m types.JVMMetric
		err := rows.Scan(
			&m.RunID, &m.Time, &m.Tier, &m.Node, &m.HeapUsedMB, &m.HeapCommittedMB,
			&m.HeapMaxMB, &m.GCTimeMs, &m.GCCount, &m.ThreadCount, &m.ClassCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan jvm metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

// QueryApplicationMetrics returns overall-performance samples for a run.
func (d *Database) QueryApplicationMetrics(ctx context.Context, q types.MetricQuery) ([]types.ApplicationMetric, error) {
	query := `
		SELECT run_id, time, application, tier, calls_per_min, avg_response_ms,
			errors_per_min, error_percent, slow_calls, stall_count, source
		FROM application_metrics`

	where, args := metricWhere(q, "tier")
	query += where + " ORDER BY time ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query application metrics: %w", err)
	}
	defer rows.Close()

	var metrics []types.ApplicationMetric
	for rows.Next() {
		var m types.ApplicationMetric
		err := rows.Scan(
			&m.RunID, &m.Time, &m.Application, &m.Tier, &m.CallsPerMin,
			&m.AvgResponseMs, &m.ErrorsPerMin, &m.ErrorPercent,
			&m.SlowCalls, &m.StallCount, &m.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

// QueryAPIMetrics returns per-endpoint samples for a run.
func (d *Database) QueryAPIMetrics(ctx context.Context, q types.MetricQuery) ([]types.APIMetric, error) {
	query := `
		SELECT run_id, time, endpoint, tier, calls_per_min, avg_response_ms,
			p95_response_ms, max_response_ms, errors_per_min, source
		FROM api_metrics`

	where, args := metricWhere(q, "tier")
	query += where + " ORDER BY time ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query api metrics: %w", err)
	}
	defer rows.Close()

	var metrics []types.APIMetric
	for rows.Next() {
		var m types.APIMetric
		err := rows.Scan(
			&m.RunID, &m.Time, &m.Endpoint, &m.Tier, &m.CallsPerMin,
			&m.AvgResponseMs, &m.P95ResponseMs, &m.MaxResponseMs,
			&m.ErrorsPerMin, &m.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}
