// Package metrics declares the prometheus collectors of the analysis and
// training pipelines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabforge"

// Variables declared for metrics.
var (
	EDARunCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eda",
		Name:      "runs_total",
		Help:      "Counter of the number of EDA computations by outcome.",
	}, []string{"outcome"})

	EDACacheHitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eda",
		Name:      "cache_hits_total",
		Help:      "Counter of the number of EDA requests served from a cached result.",
	})

	EDADuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "eda",
		Name:      "duration_seconds",
		Help:      "Histogram of the EDA computation time.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	TrainingJobCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "jobs_total",
		Help:      "Counter of the number of training jobs by outcome.",
	}, []string{"task_type", "outcome"})

	CandidateFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "candidate_failures_total",
		Help:      "Counter of the number of candidate algorithms that failed to train.",
	}, []string{"algorithm"})

	CandidateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "candidate_duration_seconds",
		Help:      "Histogram of the fit time of one candidate algorithm.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"algorithm"})

	PredictionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prediction",
		Name:      "requests_total",
		Help:      "Counter of the number of prediction requests by input mode and outcome.",
	}, []string{"mode", "outcome"})

	PredictedRowCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prediction",
		Name:      "rows_total",
		Help:      "Counter of the number of rows scored.",
	})

	NarratorCallCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "narrator",
		Name:      "calls_total",
		Help:      "Counter of the number of narrative generation calls by use case and outcome.",
	}, []string{"use_case", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Gauge of the number of tasks waiting for a worker.",
	})

	TaskCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "tasks_total",
		Help:      "Counter of the number of async tasks by kind and outcome.",
	}, []string{"kind", "outcome"})

	ReapedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "reaped_total",
		Help:      "Counter of the number of running rows failed for a lost heartbeat.",
	}, []string{"kind"})
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// Since observes the seconds elapsed from start.
func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// New builds the HTTP server exposing /metrics on addr.
func New(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
