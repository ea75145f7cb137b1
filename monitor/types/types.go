package types

import (
	"time"
)

// Run status values stored in the test_runs table.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Metric source labels.
const (
	SourceAppDynamics = "appdynamics"
	SourceKibana      = "kibana"
	SourcePrometheus  = "prometheus"
	SourceHost        = "host"
)

// TestRun describes one load-test execution. All metric rows collected
// during the run reference its ID.
type TestRun struct {
	ID           string     `json:"id"`
	TestName     string     `json:"test_name"`
	Description  string     `json:"description"`
	Environment  string     `json:"environment"`
	TargetURL    string     `json:"target_url"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Status       string     `json:"status"`
	VirtualUsers int        `json:"virtual_users"`
	TargetRPS    int        `json:"target_rps"`
	Duration     string     `json:"duration"`
	Tags         []string   `json:"tags"`
	Notes        string     `json:"notes,omitempty"`
}

// ServerMetric is one hardware sample for a host, either reported by the
// APM machine agent or sampled locally.
type ServerMetric struct {
	RunID          string    `json:"run_id"`
	Time           time.Time `json:"time"`
	Host           string    `json:"host"`
	Tier           string    `json:"tier,omitempty"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	MemoryUsedMB   float64   `json:"memory_used_mb"`
	DiskReadKBps   float64   `json:"disk_read_kbps"`
	DiskWriteKBps  float64   `json:"disk_write_kbps"`
	NetworkInKBps  float64   `json:"network_in_kbps"`
	NetworkOutKBps float64   `json:"network_out_kbps"`
	Source         string    `json:"source"`
}

// JVMMetric is one JVM sample for a node within a tier.
type JVMMetric struct {
	RunID           string    `json:"run_id"`
	Time            time.Time `json:"time"`
	Tier            string    `json:"tier"`
	Node            string    `json:"node"`
	HeapUsedMB      float64   `json:"heap_used_mb"`
	HeapCommittedMB float64   `json:"heap_committed_mb"`
	HeapMaxMB       float64   `json:"heap_max_mb"`
	GCTimeMs        float64   `json:"gc_time_ms"`
	GCCount         int64     `json:"gc_count"`
	ThreadCount     int64     `json:"thread_count"`
	ClassCount      int64     `json:"class_count"`
}

// ApplicationMetric is one overall-performance sample for an application tier.
type ApplicationMetric struct {
	RunID         string    `json:"run_id"`
	Time          time.Time `json:"time"`
	Application   string    `json:"application"`
	Tier          string    `json:"tier"`
	CallsPerMin   float64   `json:"calls_per_min"`
	AvgResponseMs float64   `json:"avg_response_ms"`
	ErrorsPerMin  float64   `json:"errors_per_min"`
	ErrorPercent  float64   `json:"error_percent"`
	SlowCalls     int64     `json:"slow_calls"`
	StallCount    int64     `json:"stall_count"`
	Source        string    `json:"source"`
}

// APIMetric is one sample for a single endpoint or business transaction.
type APIMetric struct {
	RunID         string    `json:"run_id"`
	Time          time.Time `json:"time"`
	Endpoint      string    `json:"endpoint"`
	Tier          string    `json:"tier,omitempty"`
	CallsPerMin   float64   `json:"calls_per_min"`
	AvgResponseMs float64   `json:"avg_response_ms"`
	P95ResponseMs float64   `json:"p95_response_ms"`
	MaxResponseMs float64   `json:"max_response_ms"`
	ErrorsPerMin  float64   `json:"errors_per_min"`
	Source        string    `json:"source"`
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	TestName    string
	Environment string
	Status      string
	Since       time.Time
	Limit       int
	Offset      int
}

// MetricQuery narrows per-table metric queries for a run.
type MetricQuery struct {
	RunID string
	Tier  string
	Host  string
	Since time.Time
	Until time.Time
	Limit int
}

// RunSummary aggregates the stored metrics of one run for the dashboard.
type RunSummary struct {
	Run               *TestRun `json:"run"`
	ServerSamples     int64    `json:"server_samples"`
	JVMSamples        int64    `json:"jvm_samples"`
	AppSamples        int64    `json:"application_samples"`
	APISamples        int64    `json:"api_samples"`
	AvgCPUPercent     float64  `json:"avg_cpu_percent"`
	MaxCPUPercent     float64  `json:"max_cpu_percent"`
	AvgHeapUsedMB     float64  `json:"avg_heap_used_mb"`
	AvgResponseMs     float64  `json:"avg_response_ms"`
	MaxP95ResponseMs  float64  `json:"max_p95_response_ms"`
	TotalErrorsPerMin float64  `json:"total_errors_per_min"`
	ErrorPercent      float64  `json:"error_percent"`
	DegradedSources   []string `json:"degraded_sources,omitempty"`
}

// RunComparison holds summary deltas between two runs.
type RunComparison struct {
	Base             *RunSummary `json:"base"`
	Other            *RunSummary `json:"other"`
	AvgResponseDelta float64     `json:"avg_response_delta_ms"`
	ErrorRateDelta   float64     `json:"error_rate_delta"`
	AvgCPUDelta      float64     `json:"avg_cpu_delta"`
	AvgHeapDelta     float64     `json:"avg_heap_delta_mb"`
}

// Sample is everything one collector tick gathered. It is what gets
// batch-inserted and what live subscribers receive.
type Sample struct {
	RunID       string              `json:"run_id"`
	Tick        int64               `json:"tick"`
	Time        time.Time           `json:"time"`
	Server      []ServerMetric      `json:"server,omitempty"`
	JVM         []JVMMetric         `json:"jvm,omitempty"`
	Application []ApplicationMetric `json:"application,omitempty"`
	API         []APIMetric         `json:"api,omitempty"`
	Errors      map[string]string   `json:"errors,omitempty"`
}

// RowCount returns the total number of metric rows in the sample.
func (s *Sample) RowCount() int {
	return len(s.Server) + len(s.JVM) + len(s.Application) + len(s.API)
}
