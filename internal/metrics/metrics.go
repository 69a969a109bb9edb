package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsProcessed tracks attempt outcomes per sweep.
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrsweep_documents_processed_total",
			Help: "Total number of document attempts by outcome",
		},
		[]string{"outcome"},
	)

	// FailuresTotal tracks failed attempts by classification.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrsweep_failures_total",
			Help: "Total number of failed attempts by error kind",
		},
		[]string{"kind"},
	)

	// AttemptDuration tracks wall-clock time per attempt.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocrsweep_attempt_duration_seconds",
			Help:    "Attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"outcome"},
	)

	// SweepBacklog tracks the eligible document count at sweep start.
	SweepBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocrsweep_sweep_backlog",
			Help: "Documents selected for processing in the current sweep",
		},
	)

	// RetryQueueDepth tracks documents parked under backoff.
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocrsweep_retry_queue_depth",
			Help: "Documents waiting out their backoff window",
		},
	)
)
