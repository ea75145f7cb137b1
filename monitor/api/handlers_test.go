package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfscope/monitor/storage"
	"github.com/perfscope/monitor/types"
)

// stubStore serves canned data and records the queries it received.
type stubStore struct {
	runs      map[string]*types.TestRun
	server    []types.ServerMetric
	app       []types.ApplicationMetric
	summaries map[string]*types.RunSummary

	lastFilter types.RunFilter
	lastQuery  types.MetricQuery
	listErr    error
}

var _ storage.Store = (*stubStore)(nil)

func newStubStore() *stubStore {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &stubStore{
		runs: map[string]*types.TestRun{
			"run-1": {
				ID:        "run-1",
				TestName:  "checkout-load",
				Status:    types.RunStatusCompleted,
				StartedAt: started,
			},
		},
		summaries: map[string]*types.RunSummary{},
	}
}

func (s *stubStore) notFound(id string) error {
	return fmt.Errorf("run not found: %s", id)
}

func (s *stubStore) InsertRun(ctx context.Context, run *types.TestRun) error { return nil }

func (s *stubStore) UpdateRunStatus(ctx context.Context, id, status string, completedAt *time.Time) error {
	return nil
}

func (s *stubStore) UpdateRunNotes(ctx context.Context, id, notes string) error { return nil }

func (s *stubStore) GetRun(ctx context.Context, id string) (*types.TestRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, s.notFound(id)
	}
	return run, nil
}

func (s *stubStore) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.TestRun, error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	var runs []*types.TestRun
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *stubStore) DeleteRun(ctx context.Context, id string) error {
	if _, ok := s.runs[id]; !ok {
		return s.notFound(id)
	}
	delete(s.runs, id)
	return nil
}

func (s *stubStore) DeleteOldRuns(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) InsertServerMetrics(ctx context.Context, metrics []types.ServerMetric) error {
	return nil
}

func (s *stubStore) InsertJVMMetrics(ctx context.Context, metrics []types.JVMMetric) error {
	return nil
}

func (s *stubStore) InsertApplicationMetrics(ctx context.Context, metrics []types.ApplicationMetric) error {
	return nil
}

func (s *stubStore) InsertAPIMetrics(ctx context.Context, metrics []types.APIMetric) error {
	return nil
}

func (s *stubStore) QueryServerMetrics(ctx context.Context, q types.MetricQuery) ([]types.ServerMetric, error) {
	s.lastQuery = q
	return s.server, nil
}

func (s *stubStore) QueryJVMMetrics(ctx context.Context, q types.MetricQuery) ([]types.JVMMetric, error) {
	s.lastQuery = q
	return nil, nil
}

func (s *stubStore) QueryApplicationMetrics(ctx context.Context, q types.MetricQuery) ([]types.ApplicationMetric, error) {
	s.lastQuery = q
	return s.app, nil
}

func (s *stubStore) QueryAPIMetrics(ctx context.Context, q types.MetricQuery) ([]types.APIMetric, error) {
	s.lastQuery = q
	return nil, nil
}

func (s *stubStore) GetRunSummary(ctx context.Context, id string) (*types.RunSummary, error) {
	summary, ok := s.summaries[id]
	if !ok {
		return nil, s.notFound(id)
	}
	return summary, nil
}

func (s *stubStore) CompareRuns(ctx context.Context, baseID, otherID string) (*types.RunComparison, error) {
	base, ok := s.summaries[baseID]
	if !ok {
		return nil, s.notFound(baseID)
	}
	other, ok := s.summaries[otherID]
	if !ok {
		return nil, s.notFound(otherID)
	}
	return &types.RunComparison{
		Base:             base,
		Other:            other,
		AvgResponseDelta: other.AvgResponseMs - base.AvgResponseMs,
	}, nil
}

func testServer(store storage.Store, feed LiveFeed) *Server {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewServer(":0", store, feed, log)
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestListRuns(t *testing.T) {
	store := newStubStore()
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs?test=checkout-load&status=completed&limit=10&offset=5&since=2026-03-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Runs  []types.TestRun `json:"runs"`
		Count int             `json:"count"`
		Limit int             `json:"limit"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 10, body.Limit)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-1", body.Runs[0].ID)

	// Query parameters made it into the filter.
	assert.Equal(t, "checkout-load", store.lastFilter.TestName)
	assert.Equal(t, "completed", store.lastFilter.Status)
	assert.Equal(t, 10, store.lastFilter.Limit)
	assert.Equal(t, 5, store.lastFilter.Offset)
	assert.Equal(t, 2026, store.lastFilter.Since.Year())
}

func TestListRunsDefaultsAndBounds(t *testing.T) {
	store := newStubStore()
	handler := testServer(store, nil).Handler()

	doRequest(t, handler, http.MethodGet, "/api/runs")
	assert.Equal(t, 50, store.lastFilter.Limit)

	// Out-of-range limits fall back to the default.
	doRequest(t, handler, http.MethodGet, "/api/runs?limit=5000")
	assert.Equal(t, 50, store.lastFilter.Limit)
}

func TestListRunsEmptyIsArray(t *testing.T) {
	store := newStubStore()
	store.runs = map[string]*types.TestRun{}
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)
}

func TestGetRun(t *testing.T) {
	handler := testServer(newStubStore(), nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var run types.TestRun
	decodeBody(t, rec, &run)
	assert.Equal(t, "checkout-load", run.TestName)

	rec = doRequest(t, handler, http.MethodGet, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	store := newStubStore()
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodDelete, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.runs)

	rec = doRequest(t, handler, http.MethodDelete, "/api/runs/run-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunSummary(t *testing.T) {
	store := newStubStore()
	store.summaries["run-1"] = &types.RunSummary{
		Run:             store.runs["run-1"],
		AppSamples:      42,
		AvgResponseMs:   88.5,
		DegradedSources: []string{"kibana"},
	}
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs/run-1/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary types.RunSummary
	decodeBody(t, rec, &summary)
	assert.Equal(t, int64(42), summary.AppSamples)
	assert.Equal(t, []string{"kibana"}, summary.DegradedSources)

	rec = doRequest(t, handler, http.MethodGet, "/api/runs/missing/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunMetrics(t *testing.T) {
	store := newStubStore()
	store.app = []types.ApplicationMetric{{RunID: "run-1", Application: "ECommerce", CallsPerMin: 120}}
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet,
		"/api/runs/run-1/metrics/application?tier=web&limit=100&since=2026-03-01T10:00:00Z&until=2026-03-01T11:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID   string                    `json:"run_id"`
		Kind    string                    `json:"kind"`
		Metrics []types.ApplicationMetric `json:"metrics"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, "application", body.Kind)
	require.Len(t, body.Metrics, 1)
	assert.Equal(t, 120.0, body.Metrics[0].CallsPerMin)

	assert.Equal(t, "run-1", store.lastQuery.RunID)
	assert.Equal(t, "web", store.lastQuery.Tier)
	assert.Equal(t, 100, store.lastQuery.Limit)
	assert.Equal(t, 10, store.lastQuery.Since.UTC().Hour())
	assert.Equal(t, 11, store.lastQuery.Until.UTC().Hour())
}

func TestGetRunMetricsKinds(t *testing.T) {
	store := newStubStore()
	handler := testServer(store, nil).Handler()

	for _, kind := range []string{"server", "jvm", "application", "api"} {
		rec := doRequest(t, handler, http.MethodGet, "/api/runs/run-1/metrics/"+kind)
		assert.Equal(t, http.StatusOK, rec.Code, "kind %s", kind)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/runs/run-1/metrics/gpu")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown metric kind")
}

func TestCompareRuns(t *testing.T) {
	store := newStubStore()
	store.summaries["run-1"] = &types.RunSummary{AvgResponseMs: 80}
	store.summaries["run-2"] = &types.RunSummary{AvgResponseMs: 95}
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs/run-1/compare/run-2")
	require.Equal(t, http.StatusOK, rec.Code)

	var cmp types.RunComparison
	decodeBody(t, rec, &cmp)
	assert.Equal(t, 15.0, cmp.AvgResponseDelta)

	rec = doRequest(t, handler, http.MethodGet, "/api/runs/run-1/compare/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsStorageError(t *testing.T) {
	store := newStubStore()
	store.listErr = fmt.Errorf("connection refused")
	handler := testServer(store, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	handler := testServer(newStubStore(), nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	handler := testServer(newStubStore(), nil).Handler()

	rec := doRequest(t, handler, http.MethodOptions, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketWithoutFeed(t *testing.T) {
	handler := testServer(newStubStore(), nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/ws")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	handler := testServer(newStubStore(), nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
