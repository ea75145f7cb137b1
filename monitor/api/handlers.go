package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/perfscope/monitor/types"
)

// handleListRuns lists stored runs with filtering and pagination.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := types.RunFilter{
		TestName:    q.Get("test"),
		Environment: q.Get("environment"),
		Status:      q.Get("status"),
		Limit:       50,
	}

	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			filter.Limit = parsed
		}
	}
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}
	if v := q.Get("since"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			filter.Since = parsed
		}
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*types.TestRun{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"count":  len(runs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleGetRun returns one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "run not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// handleDeleteRun removes a run and its metrics.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	if err := s.store.DeleteRun(r.Context(), runID); err != nil {
		if isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "run not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to delete run", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": runID})
}

// handleGetRunSummary returns the aggregated metrics of one run.
func (s *Server) handleGetRunSummary(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	summary, err := s.store.GetRunSummary(r.Context(), runID)
	if err != nil {
		if isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "run not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to summarize run", err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// handleGetRunMetrics returns one metric table's rows for a run.
func (s *Server) handleGetRunMetrics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]
	kind := vars["kind"]

	q := r.URL.Query()
	query := types.MetricQuery{
		RunID: runID,
		Tier:  q.Get("tier"),
		Host:  q.Get("host"),
		Limit: 10000,
	}
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if v := q.Get("since"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			query.Since = parsed
		}
	}
	if v := q.Get("until"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			query.Until = parsed
		}
	}

	var result interface{}
	var err error

	switch kind {
	case "server":
		result, err = s.store.QueryServerMetrics(r.Context(), query)
	case "jvm":
		result, err = s.store.QueryJVMMetrics(r.Context(), query)
	case "application":
		result, err = s.store.QueryApplicationMetrics(r.Context(), query)
	case "api":
		result, err = s.store.QueryAPIMetrics(r.Context(), query)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown metric kind: "+kind, nil)
		return
	}

	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query metrics", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"kind":    kind,
		"metrics": result,
	})
}

// handleCompareRuns returns summary deltas between two runs.
func (s *Server) handleCompareRuns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	comparison, err := s.store.CompareRuns(r.Context(), vars["runId"], vars["otherRunId"])
	if err != nil {
		if isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "run not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to compare runs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, comparison)
}

// handleHealth reports server liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		s.log.WithError(err).Warn(msg)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
