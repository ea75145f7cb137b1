// Package promsource maps instant Prometheus queries into application and
// API metric rows, as an optional third source next to the APM controller
// and the log-analytics backend.
package promsource

import (
	"context"
	"fmt"
	"net/url"
	"time"

	prometheus "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/types"
)

// Source queries a Prometheus server for configured expressions.
type Source struct {
	api     v1.API
	queries []config.PrometheusQuery
	log     logrus.FieldLogger
}

// NewSource creates a Prometheus source from configuration.
func NewSource(cfg *config.PrometheusConfig, log logrus.FieldLogger) (*Source, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid prometheus endpoint: %w", err)
	}
	if cfg.Username != "" && cfg.Password != "" {
		endpoint.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	client, err := prometheus.NewClient(prometheus.Config{Address: endpoint.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	return &Source{
		api:     v1.NewAPI(client),
		queries: cfg.Queries,
		log:     log.WithField("component", "promsource"),
	}, nil
}

// Collect evaluates every configured query at ts and converts the resulting
// vectors into metric rows for the run.
func (s *Source) Collect(ctx context.Context, runID string, ts time.Time) ([]types.ApplicationMetric, []types.APIMetric, error) {
	var appRows []types.ApplicationMetric
	var apiRows []types.APIMetric

	for _, q := range s.queries {
		value, warnings, err := s.api.Query(ctx, q.Query, ts)
		if err != nil {
			return nil, nil, fmt.Errorf("query %q failed: %w", q.Name, err)
		}
		for _, w := range warnings {
			s.log.WithField("query", q.Name).Warn(w)
		}

		vector, ok := value.(model.Vector)
		if !ok {
			return nil, nil, fmt.Errorf("query %q: expected vector result, got %s", q.Name, value.Type())
		}

		for _, sample := range vector {
			switch q.Kind {
			case "application":
				row := types.ApplicationMetric{
					RunID:       runID,
					Time:        ts,
					Application: labelOr(sample.Metric, "application", q.Name),
					Tier:        labelOr(sample.Metric, "tier", string(sample.Metric["job"])),
					Source:      types.SourcePrometheus,
				}
				setAppValue(&row, q.Metric, float64(sample.Value))
				appRows = append(appRows, row)
			case "api":
				row := types.APIMetric{
					RunID:    runID,
					Time:     ts,
					Endpoint: labelOr(sample.Metric, "endpoint", q.Name),
					Tier:     string(sample.Metric["job"]),
					Source:   types.SourcePrometheus,
				}
				setAPIValue(&row, q.Metric, float64(sample.Value))
				apiRows = append(apiRows, row)
			}
		}
	}

	return appRows, apiRows, nil
}

func labelOr(m model.Metric, name model.LabelName, fallback string) string {
	if v, ok := m[name]; ok {
		return string(v)
	}
	return fallback
}

func setAppValue(row *types.ApplicationMetric, metric string, value float64) {
	switch metric {
	case "calls_per_min":
		row.CallsPerMin = value
	case "avg_response_ms":
		row.AvgResponseMs = value
	case "errors_per_min":
		row.ErrorsPerMin = value
	}
}

func setAPIValue(row *types.APIMetric, metric string, value float64) {
	switch metric {
	case "calls_per_min":
		row.CallsPerMin = value
	case "avg_response_ms":
		row.AvgResponseMs = value
	case "errors_per_min":
		row.ErrorsPerMin = value
	case "p95_response_ms":
		row.P95ResponseMs = value
	}
}
