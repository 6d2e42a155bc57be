// Package metrics registers the Prometheus collectors exposed by both the
// router and worker processes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Router-side.

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cacherouter_dispatch_total",
		Help: "Total completions dispatches, partitioned by cache_status and strategy.",
	}, []string{"cache_status", "strategy"})

	DispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cacherouter_dispatch_errors_total",
		Help: "Total dispatch failures, partitioned by reason.",
	}, []string{"reason"})

	MatchLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cacherouter_match_length_blocks",
		Help:    "Longest-prefix match length, in blocks, for CACHE_AWARE dispatches.",
		Buckets: prometheus.LinearBuckets(0, 4, 16),
	})

	LiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacherouter_live_workers",
		Help: "Number of workers currently considered live.",
	})

	// Worker-side.

	CacheOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacherouter_worker_cache_blocks_in_use",
		Help: "Number of resident blocks in the worker's cache.",
	})

	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cacherouter_worker_evictions_total",
		Help: "Total blocks evicted from the worker's cache.",
	})

	CurrentLoad = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cacherouter_worker_current_load_ms",
		Help: "Sum of remaining estimated latency over the worker's active tasks.",
	})

	TaskLatencyMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cacherouter_worker_task_latency_ms",
		Help:    "Computed latency per admitted task, by phase (prefill, decode).",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"phase"})
)
