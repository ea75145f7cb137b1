package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/types"
)

// Database implements Store on PostgreSQL.
type Database struct {
	db  *sql.DB
	cfg *config.PostgreSQLConfig
	log logrus.FieldLogger
}

var _ Store = (*Database)(nil)

// NewDatabase creates a database handle without connecting.
func NewDatabase(cfg *config.PostgreSQLConfig) *Database {
	return &Database{
		cfg: cfg,
		log: logrus.WithField("component", "postgres"),
	}
}

// Connect opens the connection pool and verifies connectivity.
func (d *Database) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", d.cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	db.SetMaxIdleConns(d.cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.db = db
	d.log.Info("Connected to PostgreSQL database")
	return nil
}

// Migrate applies pending schema migrations.
func (d *Database) Migrate() error {
	return RunMigrations(d.db)
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DB exposes the underlying pool for health checks.
func (d *Database) DB() *sql.DB {
	return d.db
}

// InsertRun inserts a test run row.
func (d *Database) InsertRun(ctx context.Context, run *types.TestRun) error {
	query := `
		INSERT INTO test_runs (
			id, test_name, description, environment, target_url, started_at,
			completed_at, status, virtual_users, target_rps, duration, tags, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	tagsJSON, _ := json.Marshal(run.Tags)

	_, err := d.db.ExecContext(ctx, query,
		run.ID, run.TestName, run.Description, run.Environment, run.TargetURL,
		run.StartedAt, run.CompletedAt, run.Status, run.VirtualUsers,
		run.TargetRPS, run.Duration, tagsJSON, run.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	d.log.WithField("run_id", run.ID).Debug("Inserted test run")
	return nil
}

// UpdateRunStatus changes a run's status and completion time.
func (d *Database) UpdateRunStatus(ctx context.Context, id, status string, completedAt *time.Time) error {
	query := `UPDATE test_runs SET status = $1, completed_at = $2 WHERE id = $3`
	result, err := d.db.ExecContext(ctx, query, status, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// UpdateRunNotes replaces a run's notes.
func (d *Database) UpdateRunNotes(ctx context.Context, id, notes string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE test_runs SET notes = $1 WHERE id = $2`, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update run notes: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (d *Database) GetRun(ctx context.Context, id string) (*types.TestRun, error) {
	query := `
		SELECT id, test_name, description, environment, target_url, started_at,
			completed_at, status, virtual_users, target_rps, duration, tags, notes
		FROM test_runs WHERE id = $1`

	run, err := scanRun(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs matching the filter, newest first.
func (d *Database) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.TestRun, error) {
	query := `
		SELECT id, test_name, description, environment, target_url, started_at,
			completed_at, status, virtual_users, target_rps, duration, tags, notes
		FROM test_runs WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if filter.TestName != "" {
		query += fmt.Sprintf(" AND test_name = $%d", argCount)
		args = append(args, filter.TestName)
		argCount++
	}

	if filter.Environment != "" {
		query += fmt.Sprintf(" AND environment = $%d", argCount)
		args = append(args, filter.Environment)
		argCount++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND started_at >= $%d", argCount)
		args = append(args, filter.Since)
		argCount++
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run; metric rows cascade.
func (d *Database) DeleteRun(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM test_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	d.log.WithField("run_id", id).Info("Deleted run")
	return nil
}

// DeleteOldRuns removes runs started before the cutoff and returns the count.
func (d *Database) DeleteOldRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM test_runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	count, _ := result.RowsAffected()
	d.log.WithField("deleted_count", count).Info("Deleted old runs")
	return count, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*types.TestRun, error) {
	var run types.TestRun
	var completedAt sql.NullTime
	var tagsJSON []byte

	err := row.Scan(
		&run.ID, &run.TestName, &run.Description, &run.Environment,
		&run.TargetURL, &run.StartedAt, &completedAt, &run.Status,
		&run.VirtualUsers, &run.TargetRPS, &run.Duration, &tagsJSON, &run.Notes,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	json.Unmarshal(tagsJSON, &run.Tags)

	return &run, nil
}
