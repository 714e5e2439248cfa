package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FindingsTriaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_findings_triaged_total",
			Help: "Total number of findings triaged, by verdict",
		},
		[]string{"verdict"},
	)

	FindingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soctriage_finding_failures_total",
			Help: "Total number of findings whose processing failed at the finding boundary",
		},
	)

	FindingsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soctriage_findings_truncated_total",
			Help: "Total number of findings dropped by the per-run cap",
		},
	)

	ExtractionWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_extraction_warnings_total",
			Help: "Total number of malformed indicator fields skipped during extraction",
		},
		[]string{"kind"},
	)

	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_enrichment_lookups_total",
			Help: "Total number of backend lookups, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soctriage_enrichment_lookup_duration_seconds",
			Help:    "Time taken by individual backend lookups",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	RateLimitPauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_enrichment_rate_limit_pauses_total",
			Help: "Total number of cool-down pauses triggered by backend rate limiting",
		},
		[]string{"provider"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_cache_hits_total",
			Help: "Total number of enrichment cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_cache_misses_total",
			Help: "Total number of enrichment cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_cache_errors_total",
			Help: "Total number of enrichment cache errors",
		},
		[]string{"cache", "op"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soctriage_worker_pool_active_workers",
			Help: "Number of running workers per pool (-1 after a timed-out shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soctriage_worker_pool_queue_size",
			Help: "Number of tasks waiting in the pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soctriage_worker_pool_tasks_processed_total",
			Help: "Total number of tasks completed by the pool",
		},
		[]string{"pool"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soctriage_run_duration_seconds",
			Help:    "Time taken by a full triage run",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile format.
// Triage runs are short-lived, so metrics are exported once at the end instead of scraped.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
