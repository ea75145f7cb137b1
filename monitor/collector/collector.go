// Package collector runs the periodic poll-and-store loop of one monitored
// load-test run: each tick it queries the enabled metric sources for the
// window since the previous tick and writes the resulting rows to storage.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/appdynamics"
	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/hostmetrics"
	"github.com/perfscope/monitor/kibana"
	"github.com/perfscope/monitor/promsource"
	"github.com/perfscope/monitor/storage"
	"github.com/perfscope/monitor/types"
)

// defaultDegradedThreshold is the number of consecutive failed polls after
// which a source is marked degraded, used when the configuration leaves
// degraded_threshold unset.
const defaultDegradedThreshold = 5

// Collector owns one test run and its polling loop.
type Collector struct {
	cfg     *config.MonitorConfig
	store   storage.Store
	sources []Source
	log     logrus.FieldLogger

	degradedThreshold int
	failures          map[string]int
	degraded          map[string]bool

	mu          sync.Mutex
	subscribers map[chan types.Sample]struct{}
}

// New creates a collector over explicit sources.
func New(cfg *config.MonitorConfig, store storage.Store, sources []Source, log logrus.FieldLogger) *Collector {
	threshold := cfg.DegradedThreshold
	if threshold <= 0 {
		threshold = defaultDegradedThreshold
	}

	return &Collector{
		cfg:               cfg,
		store:             store,
		sources:           sources,
		log:               log.WithField("component", "collector"),
		degradedThreshold: threshold,
		failures:          make(map[string]int),
		degraded:          make(map[string]bool),
		subscribers:       make(map[chan types.Sample]struct{}),
	}
}

// BuildSources constructs the enabled sources from configuration.
func BuildSources(cfg *config.MonitorConfig, log logrus.FieldLogger) ([]Source, error) {
	var sources []Source

	if cfg.Sources.AppDynamics.Enabled {
		client := appdynamics.NewClient(&cfg.Sources.AppDynamics, log)
		sources = append(sources, NewAppDynamicsSource(client, cfg.Sources.AppDynamics, log))
	}

	if cfg.Sources.Kibana.Enabled {
		client := kibana.NewClient(&cfg.Sources.Kibana, log)
		sources = append(sources, NewKibanaSource(client, cfg.Sources.Kibana))
	}

	if cfg.Sources.Prometheus.Enabled {
		src, err := promsource.NewSource(&cfg.Sources.Prometheus, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus source: %w", err)
		}
		sources = append(sources, NewPrometheusSource(src))
	}

	if cfg.Sources.Host.Enabled {
		sources = append(sources, NewHostSource(hostmetrics.NewSampler(cfg.Sources.Host.Tier)))
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no metric sources enabled")
	}

	return sources, nil
}

// Subscribe registers a live sample subscriber. Slow subscribers miss
// samples rather than stalling the loop.
func (c *Collector) Subscribe() (<-chan types.Sample, func()) {
	ch := make(chan types.Sample, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Collector) broadcast(sample types.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
}

// Run executes the polling loop until the configured duration elapses or
// the context is cancelled. An empty runID generates a fresh one.
func (c *Collector) Run(ctx context.Context, runID string) error {
	if runID == "" {
		runID = uuid.New().String()
	}

	log := c.log.WithField("run_id", runID)

	run := &types.TestRun{
		ID:           runID,
		TestName:     c.cfg.TestName,
		Description:  c.cfg.Description,
		Environment:  c.cfg.Environment,
		TargetURL:    c.cfg.TargetURL,
		StartedAt:    time.Now(),
		Status:       types.RunStatusRunning,
		VirtualUsers: c.cfg.VirtualUsers,
		TargetRPS:    c.cfg.TargetRPS,
		Duration:     c.cfg.Duration,
		Tags:         c.cfg.Tags,
	}

	if err := c.store.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}

	if d := c.cfg.RunDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	interval := c.cfg.CollectionInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{
		"interval": interval,
		"sources":  len(c.sources),
	}).Info("Collection started")

	lastTick := run.StartedAt
	var tick int64

	for {
		select {
		case now := <-ticker.C:
			tick++
			ticksTotal.Inc()
			c.processTick(ctx, runID, tick, Window{Start: lastTick, End: now}, log)
			lastTick = now
		case <-ctx.Done():
			return c.finish(runID, log)
		}
	}
}

// processTick polls every source for the window and persists the sample.
// A failing source is isolated: it is logged and counted, and the remaining
// sources still run.
func (c *Collector) processTick(ctx context.Context, runID string, tick int64, w Window, log logrus.FieldLogger) {
	sample := types.Sample{
		RunID:  runID,
		Tick:   tick,
		Time:   w.End,
		Errors: make(map[string]string),
	}

	for _, src := range c.sources {
		start := time.Now()
		err := src.Collect(ctx, runID, w, &sample)
		pollDuration.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pollErrors.WithLabelValues(src.Name()).Inc()
			c.failures[src.Name()]++
			sample.Errors[src.Name()] = err.Error()
			log.WithError(err).WithField("source", src.Name()).Warn("Source poll failed")

			if c.failures[src.Name()] >= c.degradedThreshold && !c.degraded[src.Name()] {
				c.degraded[src.Name()] = true
				log.WithField("source", src.Name()).Error("Source marked degraded for this run")
			}
			continue
		}
		c.failures[src.Name()] = 0
	}

	c.persist(ctx, &sample, log)
	c.broadcast(sample)

	log.WithFields(logrus.Fields{
		"tick": tick,
		"rows": sample.RowCount(),
	}).Debug("Tick processed")
}

// persist writes the sample's rows. Storage failures are logged and counted
// but do not abort the run.
func (c *Collector) persist(ctx context.Context, sample *types.Sample, log logrus.FieldLogger) {
	inserts := []struct {
		table string
		count int
		fn    func() error
	}{
		{"server_metrics", len(sample.Server), func() error { return c.store.InsertServerMetrics(ctx, sample.Server) }},
		{"jvm_metrics", len(sample.JVM), func() error { return c.store.InsertJVMMetrics(ctx, sample.JVM) }},
		{"application_metrics", len(sample.Application), func() error { return c.store.InsertApplicationMetrics(ctx, sample.Application) }},
		{"api_metrics", len(sample.API), func() error { return c.store.InsertAPIMetrics(ctx, sample.API) }},
	}

	for _, ins := range inserts {
		if ins.count == 0 {
			continue
		}
		if err := ins.fn(); err != nil {
			insertErrors.WithLabelValues(ins.table).Inc()
			log.WithError(err).WithField("table", ins.table).Error("Failed to persist metrics")
			continue
		}
		rowsInserted.WithLabelValues(ins.table).Add(float64(ins.count))
	}
}

// finish closes out the run record. The shutdown context is fresh since the
// run context is already done.
func (c *Collector) finish(runID string, log logrus.FieldLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := types.RunStatusCompleted
	if len(c.degraded) == len(c.sources) && len(c.sources) > 0 {
		status = types.RunStatusFailed
	}

	now := time.Now()
	if err := c.store.UpdateRunStatus(ctx, runID, status, &now); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	if len(c.degraded) > 0 {
		names := make([]string, 0, len(c.degraded))
		for name := range c.degraded {
			names = append(names, name)
		}
		sort.Strings(names)
		if err := c.store.UpdateRunNotes(ctx, runID, storage.DegradedNotes(names)); err != nil {
			log.WithError(err).Warn("Failed to record degraded sources")
		}
	}

	log.WithField("status", status).Info("Collection finished")
	return nil
}
