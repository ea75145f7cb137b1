package collector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfscope/monitor/appdynamics"
	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/kibana"
	"github.com/perfscope/monitor/types"
)

// fakeController serves canned metric-data responses keyed by metric path.
type fakeController struct {
	tiers []appdynamics.Tier
	data  map[string][]appdynamics.MetricData

	tiersCalls int
}

func (f *fakeController) ListTiers(ctx context.Context, application string) ([]appdynamics.Tier, error) {
	f.tiersCalls++
	return f.tiers, nil
}

func (f *fakeController) GetMetricData(ctx context.Context, application, metricPath string, start, end time.Time, rollup bool) ([]appdynamics.MetricData, error) {
	return f.data[metricPath], nil
}

func point(path string, value, max float64) appdynamics.MetricData {
	return appdynamics.MetricData{
		MetricPath: path,
		MetricValues: []appdynamics.MetricValue{
			{StartTimeInMillis: 1000, Value: value, Max: max, Count: 1},
		},
	}
}

func appdTestConfig() config.AppDynamicsConfig {
	return config.AppDynamicsConfig{
		Enabled:         true,
		Application:     "ECommerce",
		Tiers:           []string{"web"},
		Rollup:          true,
		CollectJVM:      true,
		CollectHardware: true,
	}
}

func testWindow() Window {
	end := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	return Window{Start: end.Add(-time.Minute), End: end}
}

func TestAppDynamicsSourceCollect(t *testing.T) {
	btAvg := "Business Transaction Performance|Business Transactions|web|/checkout|" + appdynamics.MetricAvgResponseTime
	btCalls := "Business Transaction Performance|Business Transactions|web|/checkout|" + appdynamics.MetricCallsPerMinute
	btErrors := "Business Transaction Performance|Business Transactions|web|/checkout|" + appdynamics.MetricErrorsPerMinute
	hwCPU := "Application Infrastructure Performance|web|Individual Nodes|web-node-1|Hardware Resources|" + appdynamics.MetricCPUBusy
	hwMemP := "Application Infrastructure Performance|web|Individual Nodes|web-node-1|Hardware Resources|" + appdynamics.MetricMemoryUsedP
	jvmHeap := "Application Infrastructure Performance|web|Individual Nodes|web-node-1|JVM|" + appdynamics.MetricHeapUsed
	jvmThreads := "Application Infrastructure Performance|web|Individual Nodes|web-node-1|JVM|" + appdynamics.MetricThreadCount

	api := &fakeController{
		data: map[string][]appdynamics.MetricData{
			appdynamics.TierPerformancePath("web", appdynamics.MetricCallsPerMinute): {
				point("", 200, 0),
			},
			appdynamics.TierPerformancePath("web", appdynamics.MetricAvgResponseTime): {
				point("", 85, 0),
			},
			appdynamics.TierPerformancePath("web", appdynamics.MetricErrorsPerMinute): {
				point("", 4, 0),
			},
			appdynamics.BusinessTransactionPath("web", appdynamics.MetricAvgResponseTime): {
				point(btAvg, 120, 340),
			},
			appdynamics.BusinessTransactionPath("web", appdynamics.MetricCallsPerMinute): {
				point(btCalls, 90, 0),
			},
			appdynamics.BusinessTransactionPath("web", appdynamics.MetricErrorsPerMinute): {
				point(btErrors, 2, 0),
			},
			appdynamics.HardwarePath("web", appdynamics.MetricCPUBusy): {
				point(hwCPU, 63, 0),
			},
			appdynamics.HardwarePath("web", appdynamics.MetricMemoryUsedP): {
				point(hwMemP, 71, 0),
			},
			appdynamics.JVMPath("web", appdynamics.MetricHeapUsed): {
				point(jvmHeap, 512, 0),
			},
			appdynamics.JVMPath("web", appdynamics.MetricThreadCount): {
				point(jvmThreads, 48, 0),
			},
		},
	}

	src := NewAppDynamicsSource(api, appdTestConfig(), quietLogger())
	sample := types.Sample{RunID: "run-1", Errors: map[string]string{}}
	require.NoError(t, src.Collect(context.Background(), "run-1", testWindow(), &sample))

	require.Len(t, sample.Application, 1)
	app := sample.Application[0]
	assert.Equal(t, "ECommerce", app.Application)
	assert.Equal(t, "web", app.Tier)
	assert.Equal(t, 200.0, app.CallsPerMin)
	assert.Equal(t, 85.0, app.AvgResponseMs)
	assert.Equal(t, 4.0, app.ErrorsPerMin)
	assert.InDelta(t, 2.0, app.ErrorPercent, 0.001)
	assert.Equal(t, types.SourceAppDynamics, app.Source)

	require.Len(t, sample.API, 1)
	bt := sample.API[0]
	assert.Equal(t, "/checkout", bt.Endpoint)
	assert.Equal(t, "web", bt.Tier)
	assert.Equal(t, 120.0, bt.AvgResponseMs)
	assert.Equal(t, 340.0, bt.MaxResponseMs)
	assert.Equal(t, 90.0, bt.CallsPerMin)
	assert.Equal(t, 2.0, bt.ErrorsPerMin)

	require.Len(t, sample.Server, 1)
	hw := sample.Server[0]
	assert.Equal(t, "web-node-1", hw.Host)
	assert.Equal(t, 63.0, hw.CPUPercent)
	assert.Equal(t, 71.0, hw.MemoryPercent)

	require.Len(t, sample.JVM, 1)
	jvm := sample.JVM[0]
	assert.Equal(t, "web-node-1", jvm.Node)
	assert.Equal(t, 512.0, jvm.HeapUsedMB)
	assert.Equal(t, int64(48), jvm.ThreadCount)
}

func TestAppDynamicsSourceDiscoversTiersOnce(t *testing.T) {
	api := &fakeController{
		tiers: []appdynamics.Tier{{Name: "web"}},
		data:  map[string][]appdynamics.MetricData{},
	}

	cfg := appdTestConfig()
	cfg.Tiers = nil
	cfg.CollectJVM = false
	cfg.CollectHardware = false

	src := NewAppDynamicsSource(api, cfg, quietLogger())

	for i := 0; i < 3; i++ {
		sample := types.Sample{}
		require.NoError(t, src.Collect(context.Background(), "run-1", testWindow(), &sample))
	}
	assert.Equal(t, 1, api.tiersCalls)
}

func TestAppDynamicsSourceDiscoveryEmpty(t *testing.T) {
	cfg := appdTestConfig()
	cfg.Tiers = nil

	src := NewAppDynamicsSource(&fakeController{}, cfg, quietLogger())
	sample := types.Sample{}
	err := src.Collect(context.Background(), "run-1", testWindow(), &sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tiers")
}

// fakeLogSearch serves canned log-analytics results.
type fakeLogSearch struct {
	errCount int64
	stats    *kibana.ResponseTimeStats
	buckets  []kibana.EndpointBucket
	err      error

	statsQuery    string
	endpointQuery string
}

func (f *fakeLogSearch) CountErrors(ctx context.Context, query string, start, end time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.errCount, nil
}

func (f *fakeLogSearch) GetResponseTimeStats(ctx context.Context, field, query string, start, end time.Time) (*kibana.ResponseTimeStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.statsQuery = query
	return f.stats, nil
}

func (f *fakeLogSearch) EndpointStats(ctx context.Context, endpointField, responseTimeField, query string, start, end time.Time, size int) ([]kibana.EndpointBucket, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.endpointQuery = query
	return f.buckets, nil
}

func TestKibanaSourceCollect(t *testing.T) {
	api := &fakeLogSearch{
		errCount: 12,
		stats: &kibana.ResponseTimeStats{
			Count: 600,
			Avg:   75,
			Max:   900,
			P95:   240,
		},
	}

	cfg := config.KibanaConfig{Index: "app-logs-*", ErrorQuery: "level:ERROR"}
	src := NewKibanaSource(api, cfg)
	assert.Equal(t, types.SourceKibana, src.Name())

	// Two-minute window halves the per-minute rates.
	end := time.Now()
	w := Window{Start: end.Add(-2 * time.Minute), End: end}

	sample := types.Sample{}
	require.NoError(t, src.Collect(context.Background(), "run-1", w, &sample))

	require.Len(t, sample.Application, 1)
	app := sample.Application[0]
	assert.Equal(t, "app-logs-*", app.Application)
	assert.InDelta(t, 300.0, app.CallsPerMin, 0.001)
	assert.InDelta(t, 6.0, app.ErrorsPerMin, 0.001)
	assert.InDelta(t, 2.0, app.ErrorPercent, 0.001)
	assert.Equal(t, 75.0, app.AvgResponseMs)

	require.Len(t, sample.API, 1)
	api95 := sample.API[0]
	assert.Equal(t, 240.0, api95.P95ResponseMs)
	assert.Equal(t, 900.0, api95.MaxResponseMs)
}

func TestKibanaSourcePerEndpointRows(t *testing.T) {
	api := &fakeLogSearch{
		errCount: 6,
		stats:    &kibana.ResponseTimeStats{Count: 300, Avg: 80, Max: 500, P95: 200},
		buckets: []kibana.EndpointBucket{
			{Endpoint: "/checkout", Count: 200, Avg: 95, P95: 280, Max: 500},
			{Endpoint: "/cart", Count: 100, Avg: 50, P95: 110, Max: 210},
		},
	}

	cfg := config.KibanaConfig{
		Index:             "app-logs-*",
		ErrorQuery:        "level:ERROR",
		ResponseTimeQuery: "service:checkout",
		EndpointField:     "endpoint",
	}
	src := NewKibanaSource(api, cfg)

	end := time.Now()
	w := Window{Start: end.Add(-2 * time.Minute), End: end}

	sample := types.Sample{}
	require.NoError(t, src.Collect(context.Background(), "run-1", w, &sample))

	// The response-time query scopes both aggregations.
	assert.Equal(t, "service:checkout", api.statsQuery)
	assert.Equal(t, "service:checkout", api.endpointQuery)

	// One row per endpoint instead of the combined index row.
	require.Len(t, sample.API, 2)
	checkout := sample.API[0]
	assert.Equal(t, "/checkout", checkout.Endpoint)
	assert.InDelta(t, 100.0, checkout.CallsPerMin, 0.001)
	assert.Equal(t, 95.0, checkout.AvgResponseMs)
	assert.Equal(t, 280.0, checkout.P95ResponseMs)
	assert.Equal(t, 500.0, checkout.MaxResponseMs)
	assert.Equal(t, types.SourceKibana, checkout.Source)

	assert.Equal(t, "/cart", sample.API[1].Endpoint)
	assert.InDelta(t, 50.0, sample.API[1].CallsPerMin, 0.001)

	require.Len(t, sample.Application, 1)
	assert.Equal(t, "app-logs-*", sample.Application[0].Application)
}

func TestKibanaSourceNoTraffic(t *testing.T) {
	api := &fakeLogSearch{stats: &kibana.ResponseTimeStats{}}
	src := NewKibanaSource(api, config.KibanaConfig{Index: "app-logs-*"})

	sample := types.Sample{}
	require.NoError(t, src.Collect(context.Background(), "run-1", testWindow(), &sample))

	// An idle window still yields the application row but no endpoint row.
	require.Len(t, sample.Application, 1)
	assert.Zero(t, sample.Application[0].ErrorPercent)
	assert.Empty(t, sample.API)
}

func TestKibanaSourceError(t *testing.T) {
	api := &fakeLogSearch{err: fmt.Errorf("search returned 503")}
	src := NewKibanaSource(api, config.KibanaConfig{Index: "app-logs-*"})

	sample := types.Sample{}
	err := src.Collect(context.Background(), "run-1", testWindow(), &sample)
	require.Error(t, err)
	assert.Empty(t, sample.Application)
}

func TestBuildSourcesRequiresOneEnabled(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.TestName = "none"

	_, err := BuildSources(cfg, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metric sources enabled")
}
