// Package metrics holds the Prometheus collectors shared by the capture
// proxy and the evaluation worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Captured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evald_captured_total",
			Help: "Interactions normalized and enqueued, by capture mode",
		},
		[]string{"mode"},
	)

	CaptureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evald_capture_failures_total",
			Help: "Capture attempts that did not reach the work queue",
		},
		[]string{"reason"},
	)

	Processed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evald_worker_processed_total",
			Help: "Interactions evaluated and persisted by the worker",
		},
	)

	Dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evald_worker_dropped_total",
			Help: "Interactions dequeued but never persisted, by reason",
		},
		[]string{"reason"},
	)

	JudgeDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evald_judge_degraded_total",
			Help: "Judge evaluations that fell back to all-zero scores",
		},
	)

	EvaluationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evald_evaluation_seconds",
			Help:    "Wall time of one coordinated evaluation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
)

// Drop reasons used with Dropped.
const (
	ReasonMalformed  = "malformed_payload"
	ReasonEvaluation = "evaluation_failed"
	ReasonPersist    = "persist_failed"
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
