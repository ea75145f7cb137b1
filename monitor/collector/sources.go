package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/appdynamics"
	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/hostmetrics"
	"github.com/perfscope/monitor/kibana"
	"github.com/perfscope/monitor/promsource"
	"github.com/perfscope/monitor/types"
)

// Window is the half-open [Start, End) interval one tick covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Minutes returns the window length in minutes, never zero.
func (w Window) Minutes() float64 {
	m := w.End.Sub(w.Start).Minutes()
	if m <= 0 {
		return 1
	}
	return m
}

// Source contributes metric rows to one tick's sample.
type Source interface {
	Name() string
	Collect(ctx context.Context, runID string, w Window, sample *types.Sample) error
}

// controllerAPI is the subset of the AppDynamics client the source needs.
type controllerAPI interface {
	ListTiers(ctx context.Context, application string) ([]appdynamics.Tier, error)
	GetMetricData(ctx context.Context, application, metricPath string, start, end time.Time, rollup bool) ([]appdynamics.MetricData, error)
}

// appdSource polls the APM controller's metric trees per tier.
type appdSource struct {
	api   controllerAPI
	cfg   config.AppDynamicsConfig
	tiers []string
	log   logrus.FieldLogger
}

// NewAppDynamicsSource creates the controller source.
func NewAppDynamicsSource(api controllerAPI, cfg config.AppDynamicsConfig, log logrus.FieldLogger) Source {
	return &appdSource{
		api: api,
		cfg: cfg,
		log: log.WithField("source", types.SourceAppDynamics),
	}
}

func (s *appdSource) Name() string { return types.SourceAppDynamics }

func (s *appdSource) Collect(ctx context.Context, runID string, w Window, sample *types.Sample) error {
	tiers, err := s.resolveTiers(ctx)
	if err != nil {
		return err
	}

	for _, tier := range tiers {
		if err := s.collectApplication(ctx, runID, tier, w, sample); err != nil {
			return err
		}
		if err := s.collectTransactions(ctx, runID, tier, w, sample); err != nil {
			return err
		}
		if s.cfg.CollectHardware {
			if err := s.collectHardware(ctx, runID, tier, w, sample); err != nil {
				return err
			}
		}
		if s.cfg.CollectJVM {
			if err := s.collectJVM(ctx, runID, tier, w, sample); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveTiers returns the configured tiers, discovering them on first use
// when none are configured.
func (s *appdSource) resolveTiers(ctx context.Context) ([]string, error) {
	if len(s.cfg.Tiers) > 0 {
		return s.cfg.Tiers, nil
	}
	if len(s.tiers) > 0 {
		return s.tiers, nil
	}

	discovered, err := s.api.ListTiers(ctx, s.cfg.Application)
	if err != nil {
		return nil, fmt.Errorf("tier discovery failed: %w", err)
	}
	if len(discovered) == 0 {
		return nil, fmt.Errorf("application %q has no tiers", s.cfg.Application)
	}

	for _, tier := range discovered {
		s.tiers = append(s.tiers, tier.Name)
	}
	s.log.WithField("tiers", len(s.tiers)).Info("Discovered application tiers")
	return s.tiers, nil
}

// latest fetches one metric path and returns the newest rolled-up value of
// the first series, or false when the controller reported no data.
func (s *appdSource) latest(ctx context.Context, path string, w Window) (appdynamics.MetricValue, bool, error) {
	data, err := s.api.GetMetricData(ctx, s.cfg.Application, path, w.Start, w.End, s.cfg.Rollup)
	if err != nil {
		return appdynamics.MetricValue{}, false, err
	}
	if len(data) == 0 {
		return appdynamics.MetricValue{}, false, nil
	}
	v, ok := data[0].Latest()
	return v, ok, nil
}

// series fetches one wildcard metric path and maps the newest value of each
// returned series by the key extracted from its path.
func (s *appdSource) series(ctx context.Context, path string, w Window, key func(string) string) (map[string]appdynamics.MetricValue, error) {
	data, err := s.api.GetMetricData(ctx, s.cfg.Application, path, w.Start, w.End, s.cfg.Rollup)
	if err != nil {
		return nil, err
	}

	values := make(map[string]appdynamics.MetricValue, len(data))
	for i := range data {
		k := key(data[i].MetricPath)
		if k == "" {
			continue
		}
		if v, ok := data[i].Latest(); ok {
			values[k] = v
		}
	}
	return values, nil
}

func (s *appdSource) collectApplication(ctx context.Context, runID, tier string, w Window, sample *types.Sample) error {
	row := types.ApplicationMetric{
		RunID:       runID,
		Time:        w.End,
		Application: s.cfg.Application,
		Tier:        tier,
		Source:      types.SourceAppDynamics,
	}

	leaves := []struct {
		metric string
		set    func(v appdynamics.MetricValue)
	}{
		{appdynamics.MetricCallsPerMinute, func(v appdynamics.MetricValue) { row.CallsPerMin = v.Value }},
		{appdynamics.MetricAvgResponseTime, func(v appdynamics.MetricValue) { row.AvgResponseMs = v.Value }},
		{appdynamics.MetricErrorsPerMinute, func(v appdynamics.MetricValue) { row.ErrorsPerMin = v.Value }},
		{appdynamics.MetricSlowCalls, func(v appdynamics.MetricValue) { row.SlowCalls = int64(v.Value) }},
		{appdynamics.MetricStallCount, func(v appdynamics.MetricValue) { row.StallCount = int64(v.Value) }},
	}

	for _, leaf := range leaves {
		v, ok, err := s.latest(ctx, appdynamics.TierPerformancePath(tier, leaf.metric), w)
		if err != nil {
			return err
		}
		if ok {
			leaf.set(v)
		}
	}

	if row.CallsPerMin > 0 {
		row.ErrorPercent = row.ErrorsPerMin / row.CallsPerMin * 100
	}

	sample.Application = append(sample.Application, row)
	return nil
}

func (s *appdSource) collectTransactions(ctx context.Context, runID, tier string, w Window, sample *types.Sample) error {
	avg, err := s.series(ctx, appdynamics.BusinessTransactionPath(tier, appdynamics.MetricAvgResponseTime), w, appdynamics.TransactionFromPath)
	if err != nil {
		return err
	}
	calls, err := s.series(ctx, appdynamics.BusinessTransactionPath(tier, appdynamics.MetricCallsPerMinute), w, appdynamics.TransactionFromPath)
	if err != nil {
		return err
	}
	errors, err := s.series(ctx, appdynamics.BusinessTransactionPath(tier, appdynamics.MetricErrorsPerMinute), w, appdynamics.TransactionFromPath)
	if err != nil {
		return err
	}

	for name, v := range avg {
		row := types.APIMetric{
			RunID:         runID,
			Time:          w.End,
			Endpoint:      name,
			Tier:          tier,
			AvgResponseMs: v.Value,
			MaxResponseMs: v.Max,
			Source:        types.SourceAppDynamics,
		}
		if c, ok := calls[name]; ok {
			row.CallsPerMin = c.Value
		}
		if e, ok := errors[name]; ok {
			row.ErrorsPerMin = e.Value
		}
		sample.API = append(sample.API, row)
	}

	return nil
}

func (s *appdSource) collectHardware(ctx context.Context, runID, tier string, w Window, sample *types.Sample) error {
	cpu, err := s.series(ctx, appdynamics.HardwarePath(tier, appdynamics.MetricCPUBusy), w, appdynamics.NodeFromPath)
	if err != nil {
		return err
	}
	memPercent, err := s.series(ctx, appdynamics.HardwarePath(tier, appdynamics.MetricMemoryUsedP), w, appdynamics.NodeFromPath)
	if err != nil {
		return err
	}
	memUsed, err := s.series(ctx, appdynamics.HardwarePath(tier, appdynamics.MetricMemoryUsed), w, appdynamics.NodeFromPath)
	if err != nil {
		return err
	}

	for node, v := range cpu {
		row := types.ServerMetric{
			RunID:      runID,
			Time:       w.End,
			Host:       node,
			Tier:       tier,
			CPUPercent: v.Value,
			Source:     types.SourceAppDynamics,
		}
		if m, ok := memPercent[node]; ok {
			row.MemoryPercent = m.Value
		}
		if m, ok := memUsed[node]; ok {
			row.MemoryUsedMB = m.Value
		}
		sample.Server = append(sample.Server, row)
	}

	return nil
}

func (s *appdSource) collectJVM(ctx context.Context, runID, tier string, w Window, sample *types.Sample) error {
	jvmLeaves := []struct {
		metric string
		set    func(row *types.JVMMetric, v appdynamics.MetricValue)
	}{
		{appdynamics.MetricHeapUsed, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.HeapUsedMB = v.Value }},
		{appdynamics.MetricHeapCommitted, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.HeapCommittedMB = v.Value }},
		{appdynamics.MetricHeapMax, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.HeapMaxMB = v.Value }},
		{appdynamics.MetricGCTime, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.GCTimeMs = v.Value }},
		{appdynamics.MetricGCCount, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.GCCount = int64(v.Value) }},
		{appdynamics.MetricThreadCount, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.ThreadCount = int64(v.Value) }},
		{appdynamics.MetricClassCount, func(r *types.JVMMetric, v appdynamics.MetricValue) { r.ClassCount = int64(v.Value) }},
	}

	rows := make(map[string]*types.JVMMetric)
	for _, leaf := range jvmLeaves {
		values, err := s.series(ctx, appdynamics.JVMPath(tier, leaf.metric), w, appdynamics.NodeFromPath)
		if err != nil {
			return err
		}
		for node, v := range values {
			row, ok := rows[node]
			if !ok {
				row = &types.JVMMetric{
					RunID: runID,
					Time:  w.End,
					Tier:  tier,
					Node:  node,
				}
				rows[node] = row
			}
			leaf.set(row, v)
		}
	}

	for _, row := range rows {
		sample.JVM = append(sample.JVM, *row)
	}

	return nil
}

// logSearchAPI is the subset of the Kibana client the source needs.
type logSearchAPI interface {
	CountErrors(ctx context.Context, query string, start, end time.Time) (int64, error)
	GetResponseTimeStats(ctx context.Context, field, query string, start, end time.Time) (*kibana.ResponseTimeStats, error)
	EndpointStats(ctx context.Context, endpointField, responseTimeField, query string, start, end time.Time, size int) ([]kibana.EndpointBucket, error)
}

// kibanaSource derives one application-level row per tick from the
// log-analytics backend.
type kibanaSource struct {
	api logSearchAPI
	cfg config.KibanaConfig
}

// NewKibanaSource creates the log-analytics source.
func NewKibanaSource(api logSearchAPI, cfg config.KibanaConfig) Source {
	return &kibanaSource{api: api, cfg: cfg}
}

func (s *kibanaSource) Name() string { return types.SourceKibana }

func (s *kibanaSource) Collect(ctx context.Context, runID string, w Window, sample *types.Sample) error {
	errCount, err := s.api.CountErrors(ctx, s.cfg.ErrorQuery, w.Start, w.End)
	if err != nil {
		return err
	}

	stats, err := s.api.GetResponseTimeStats(ctx, s.cfg.ResponseTimeField, s.cfg.ResponseTimeQuery, w.Start, w.End)
	if err != nil {
		return err
	}

	minutes := w.Minutes()
	row := types.ApplicationMetric{
		RunID:         runID,
		Time:          w.End,
		Application:   s.cfg.Index,
		CallsPerMin:   float64(stats.Count) / minutes,
		AvgResponseMs: stats.Avg,
		ErrorsPerMin:  float64(errCount) / minutes,
		Source:        types.SourceKibana,
	}
	if stats.Count > 0 {
		row.ErrorPercent = float64(errCount) / float64(stats.Count) * 100
	}
	sample.Application = append(sample.Application, row)

	// With an endpoint field configured, the API rows break down per
	// endpoint; otherwise the index gets one combined row.
	if s.cfg.EndpointField != "" {
		buckets, err := s.api.EndpointStats(ctx, s.cfg.EndpointField, s.cfg.ResponseTimeField,
			s.cfg.ResponseTimeQuery, w.Start, w.End, 0)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			sample.API = append(sample.API, types.APIMetric{
				RunID:         runID,
				Time:          w.End,
				Endpoint:      b.Endpoint,
				CallsPerMin:   float64(b.Count) / minutes,
				AvgResponseMs: b.Avg,
				P95ResponseMs: b.P95,
				MaxResponseMs: b.Max,
				Source:        types.SourceKibana,
			})
		}
		return nil
	}

	if stats.Count > 0 {
		sample.API = append(sample.API, types.APIMetric{
			RunID:         runID,
			Time:          w.End,
			Endpoint:      s.cfg.Index,
			CallsPerMin:   float64(stats.Count) / minutes,
			AvgResponseMs: stats.Avg,
			P95ResponseMs: stats.P95,
			MaxResponseMs: stats.Max,
			ErrorsPerMin:  float64(errCount) / minutes,
			Source:        types.SourceKibana,
		})
	}

	return nil
}

// prometheusSource adapts the promsource queries.
type prometheusSource struct {
	src *promsource.Source
}

// NewPrometheusSource creates the optional Prometheus source.
func NewPrometheusSource(src *promsource.Source) Source {
	return &prometheusSource{src: src}
}

func (s *prometheusSource) Name() string { return types.SourcePrometheus }

func (s *prometheusSource) Collect(ctx context.Context, runID string, w Window, sample *types.Sample) error {
	appRows, apiRows, err := s.src.Collect(ctx, runID, w.End)
	if err != nil {
		return err
	}
	sample.Application = append(sample.Application, appRows...)
	sample.API = append(sample.API, apiRows...)
	return nil
}

// hostSource adapts the local hardware sampler.
type hostSource struct {
	sampler *hostmetrics.Sampler
}

// NewHostSource creates the local host source.
func NewHostSource(sampler *hostmetrics.Sampler) Source {
	return &hostSource{sampler: sampler}
}

func (s *hostSource) Name() string { return types.SourceHost }

func (s *hostSource) Collect(_ context.Context, runID string, w Window, sample *types.Sample) error {
	sample.Server = append(sample.Server, s.sampler.Sample(runID, w.End))
	return nil
}
