package storage

// TestRunsTable stores one row per monitored load-test execution.
const TestRunsTable = `
CREATE TABLE IF NOT EXISTS test_runs (
	id TEXT PRIMARY KEY,
	test_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	environment TEXT NOT NULL DEFAULT '',
	target_url TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP WITH TIME ZONE NOT NULL,
	completed_at TIMESTAMP WITH TIME ZONE,
	status TEXT NOT NULL DEFAULT 'running',
	virtual_users INTEGER NOT NULL DEFAULT 0,
	target_rps INTEGER NOT NULL DEFAULT 0,
	duration TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT ''
)`

// ServerMetricsTable stores hardware samples per host.
const ServerMetricsTable = `
CREATE TABLE IF NOT EXISTS server_metrics (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	time TIMESTAMP WITH TIME ZONE NOT NULL,
	host TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	memory_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	memory_used_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
	disk_read_kbps DOUBLE PRECISION NOT NULL DEFAULT 0,
	disk_write_kbps DOUBLE PRECISION NOT NULL DEFAULT 0,
	network_in_kbps DOUBLE PRECISION NOT NULL DEFAULT 0,
	network_out_kbps DOUBLE PRECISION NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT ''
)`

// JVMMetricsTable stores JVM samples per node.
const JVMMetricsTable = `
CREATE TABLE IF NOT EXISTS jvm_metrics (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	time TIMESTAMP WITH TIME ZONE NOT NULL,
	tier TEXT NOT NULL,
	node TEXT NOT NULL,
	heap_used_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
	heap_committed_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
	heap_max_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
	gc_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	gc_count BIGINT NOT NULL DEFAULT 0,
	thread_count BIGINT NOT NULL DEFAULT 0,
	class_count BIGINT NOT NULL DEFAULT 0
)`

// ApplicationMetricsTable stores overall-performance samples per tier.
const ApplicationMetricsTable = `
CREATE TABLE IF NOT EXISTS application_metrics (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	time TIMESTAMP WITH TIME ZONE NOT NULL,
	application TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	calls_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	errors_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	slow_calls BIGINT NOT NULL DEFAULT 0,
	stall_count BIGINT NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT ''
)`

// APIMetricsTable stores per-endpoint samples.
const APIMetricsTable = `
CREATE TABLE IF NOT EXISTS api_metrics (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
	time TIMESTAMP WITH TIME ZONE NOT NULL,
	endpoint TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	calls_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	p95_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	errors_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT ''
)`

// CreateIndices returns SQL for the query-path indices.
func CreateIndices() string {
	return `
	CREATE INDEX IF NOT EXISTS idx_test_runs_started_at ON test_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_test_runs_test_name ON test_runs(test_name);
	CREATE INDEX IF NOT EXISTS idx_server_metrics_run_time ON server_metrics(run_id, time DESC);
	CREATE INDEX IF NOT EXISTS idx_jvm_metrics_run_time ON jvm_metrics(run_id, time DESC);
	CREATE INDEX IF NOT EXISTS idx_application_metrics_run_time ON application_metrics(run_id, time DESC);
	CREATE INDEX IF NOT EXISTS idx_api_metrics_run_time ON api_metrics(run_id, time DESC);
	`
}

// migrations defines all database migrations in order.
var migrations = []Migration{
	{Version: 1, SQL: TestRunsTable},
	{Version: 2, SQL: ServerMetricsTable},
	{Version: 3, SQL: JVMMetricsTable},
	{Version: 4, SQL: ApplicationMetricsTable},
	{Version: 5, SQL: APIMetricsTable},
	{Version: 6, SQL: CreateIndices()},
}
