// Package metrics defines and registers Prometheus metrics for the
// pipeline orchestrator, grounded on Aback231-video_chunk_processor's
// internal/metrics package (sync.Once registration, exponential-bucket
// histograms).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_jobs_admitted_total",
			Help: "Total number of jobs admitted to the executor queue.",
		},
	)
	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_jobs_completed_total",
			Help: "Total number of jobs that reached the Completed state.",
		},
	)
	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_jobs_failed_total",
			Help: "Total number of jobs that reached the Failed state.",
		},
	)
	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpl_stage_failures_total",
			Help: "Total number of stage failures, labeled by stage name.",
		},
		[]string{"stage"},
	)
	WebhookDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_webhook_delivery_failures_total",
			Help: "Total number of webhook deliveries that exhausted retries.",
		},
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fpl_jobs_in_flight",
			Help: "Current number of jobs being executed by the worker pool.",
		},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fpl_stage_duration_seconds",
			Help:    "Histogram of per-stage execution durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"stage"},
	)
	ChunkUploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fpl_chunk_upload_duration_seconds",
			Help:    "Histogram of individual chunk upload durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default Prometheus registry.
// Safe to call multiple times; registration happens exactly once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			JobsAdmitted, JobsCompleted, JobsFailed, StageFailures,
			WebhookDeliveryFailures, JobsInFlight, StageDuration, ChunkUploadDuration,
		)
	})
}
