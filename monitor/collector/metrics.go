package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfscope_collector_ticks_total",
		Help: "Number of collection ticks executed.",
	})

	pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perfscope_source_poll_duration_seconds",
		Help:    "Duration of one source poll.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfscope_source_poll_errors_total",
		Help: "Number of failed source polls.",
	}, []string{"source"})

	rowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfscope_rows_inserted_total",
		Help: "Number of metric rows written to storage.",
	}, []string{"table"})

	insertErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfscope_insert_errors_total",
		Help: "Number of failed storage batch inserts.",
	}, []string{"table"})
)
