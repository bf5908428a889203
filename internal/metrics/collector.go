// Package metrics provides Prometheus metrics for snip-runner.
//
// All series are aggregate. Labels are bounded by the language table and
// the fixed status and rejection names; job IDs never become labels.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-snip-runner/internal/stats"
)

// Metric names read back by the status scraper.
const (
	NameInfo            = "snip_runner_info"
	NameQueueDepth      = "snip_runner_queue_depth"
	NameActiveProcesses = "snip_runner_active_processes"
	NameJobsTotal       = "snip_runner_jobs_total"
	NameJobDuration     = "snip_runner_job_duration_seconds"
	NameDurationP50     = "snip_runner_job_duration_p50_seconds"
	NameDurationP95     = "snip_runner_job_duration_p95_seconds"
	NameDurationP99     = "snip_runner_job_duration_p99_seconds"
	NameRejectedTotal   = "snip_runner_jobs_rejected_total"
	NameCleansTotal     = "snip_runner_workspace_cleans_total"
	NameFallbackTotal   = "snip_runner_fallback_jobs_total"
	NameMissesTotal     = "snip_runner_resolution_misses_total"
	NameUptimeSeconds   = "snip_runner_uptime_seconds"
	NamePeakActive      = "snip_runner_peak_active_processes"
)

// --- Overview ---
var (
	snipRunnerInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: NameInfo,
			Help: "Information about the backend (value always 1)",
		},
		[]string{"version", "session"},
	)

	snipRunnerUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameUptimeSeconds,
			Help: "Seconds since the backend started",
		},
	)

	snipRunnerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameQueueDepth,
			Help: "Requests waiting for the worker",
		},
	)

	snipRunnerActiveProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameActiveProcesses,
			Help: "Child process groups currently alive",
		},
	)

	snipRunnerPeakActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NamePeakActive,
			Help: "Most process groups alive at once",
		},
	)
)

// --- Jobs ---
var (
	snipRunnerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: NameJobsTotal,
			Help: "Finished jobs by language and status (ok, compile_failed, runtime_failed, error)",
		},
		[]string{"language", "status"},
	)

	snipRunnerFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: NameFallbackTotal,
			Help: "Jobs run by the remote delegate",
		},
		[]string{"language"},
	)

	snipRunnerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: NameRejectedTotal,
			Help: "Requests rejected before execution",
		},
		[]string{"reason"},
	)

	snipRunnerCleansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: NameCleansTotal,
			Help: "Workspace cleans",
		},
	)

	snipRunnerMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: NameMissesTotal,
			Help: "Names the context resolver could not find",
		},
		[]string{"language"},
	)
)

// --- Latency ---
var (
	snipRunnerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: NameJobDuration,
			Help: "Wall time from spawn to exit, all steps",
			Buckets: []float64{
				0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
				1, 2.5, 5, 10, 30, 60,
			},
		},
		[]string{"language"},
	)

	// Pre-calculated percentiles over the rolling window
	snipRunnerDurationP50 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameDurationP50,
			Help: "Job duration 50th percentile (median) over the rolling window",
		},
	)

	snipRunnerDurationP95 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameDurationP95,
			Help: "Job duration 95th percentile over the rolling window",
		},
	)

	snipRunnerDurationP99 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: NameDurationP99,
			Help: "Job duration 99th percentile over the rolling window",
		},
	)
)

// =============================================================================
// Collector
// =============================================================================

// Collector records job server events into Prometheus and a stats
// aggregator for the exit summary.
type Collector struct {
	startTime time.Time
	agg       *stats.Aggregator

	mu         sync.Mutex
	peakActive int
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Session string

	// Window is the span of the percentile gauges.
	Window time.Duration
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		startTime: time.Now(),
		agg:       stats.NewAggregator(cfg.Window),
	}

	registry.MustRegister(
		// Overview
		snipRunnerInfo,
		snipRunnerUptimeSeconds,
		snipRunnerQueueDepth,
		snipRunnerActiveProcesses,
		snipRunnerPeakActive,

		// Jobs
		snipRunnerJobsTotal,
		snipRunnerFallbackTotal,
		snipRunnerRejectedTotal,
		snipRunnerCleansTotal,
		snipRunnerMissesTotal,

		// Latency
		snipRunnerJobDuration,
		snipRunnerDurationP50,
		snipRunnerDurationP95,
		snipRunnerDurationP99,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	snipRunnerInfo.WithLabelValues(version, cfg.Session).Set(1)

	return c
}

// =============================================================================
// Recorder Methods
// =============================================================================

// QueueDepth sets the number of pending requests.
func (c *Collector) QueueDepth(n int) {
	snipRunnerQueueDepth.Set(float64(n))
	c.agg.ObserveQueue(n)
}

// JobFinished records a completed or aborted job.
func (c *Collector) JobFinished(lang, status string, elapsed time.Duration, fallback bool) {
	snipRunnerJobsTotal.WithLabelValues(lang, status).Inc()
	if fallback {
		snipRunnerFallbackTotal.WithLabelValues(lang).Inc()
	}
	if status != stats.StatusError {
		snipRunnerJobDuration.WithLabelValues(lang).Observe(elapsed.Seconds())
	}

	c.agg.RecordJob(lang, status, elapsed, fallback)
	c.Refresh()
}

// JobRejected records a request that never reached the worker.
func (c *Collector) JobRejected(reason string) {
	snipRunnerRejectedTotal.WithLabelValues(reason).Inc()
	c.agg.RecordRejected(reason)
}

// WorkspaceCleaned records a clean.
func (c *Collector) WorkspaceCleaned() {
	snipRunnerCleansTotal.Inc()
	c.agg.RecordClean()
}

// ResolutionMiss records names left unresolved for a run.
func (c *Collector) ResolutionMiss(lang string, missing int) {
	snipRunnerMissesTotal.WithLabelValues(lang).Add(float64(missing))
	c.agg.RecordMisses(lang, missing)
}

// SetActiveProcesses updates the live process group count. It is the
// tracker's change callback.
func (c *Collector) SetActiveProcesses(n int) {
	snipRunnerActiveProcesses.Set(float64(n))
	c.agg.ObserveActive(n)

	c.mu.Lock()
	if n > c.peakActive {
		c.peakActive = n
		snipRunnerPeakActive.Set(float64(n))
	}
	c.mu.Unlock()
}

// Refresh updates uptime and the percentile gauges.
func (c *Collector) Refresh() {
	snipRunnerUptimeSeconds.Set(time.Since(c.startTime).Seconds())

	p := c.agg.Durations()
	snipRunnerDurationP50.Set(p.P50.Seconds())
	snipRunnerDurationP95.Set(p.P95.Seconds())
	snipRunnerDurationP99.Set(p.P99.Seconds())
}

// =============================================================================
// Summary
// =============================================================================

// Summary returns the aggregated stats for the exit summary.
func (c *Collector) Summary() *stats.AggregatedStats {
	return c.agg.Aggregate()
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// PeakActive returns the peak live process group count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}
