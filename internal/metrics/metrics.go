// Package metrics provides Prometheus metrics collection for the loan risk
// scorer. It defines the request, inference, storage and session metrics
// exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scorer.
type Metrics struct {
	// Request metrics
	ScoreRequests     prometheus.Counter     // Total score requests received
	ScoreFailures     *prometheus.CounterVec // Failed score requests by error kind
	Predictions       *prometheus.CounterVec // Persisted predictions by outcome
	DashboardRequests prometheus.Counter     // Total dashboard reads
	DashboardFailures *prometheus.CounterVec // Failed dashboard reads by error kind

	// Inference metrics
	Inferences        prometheus.Counter   // Total model invocations
	InferenceFailures prometheus.Counter   // Model invocations that failed
	InferenceTimeouts prometheus.Counter   // Model invocations that timed out
	InferenceLatency  prometheus.Histogram // Model invocation latency

	// History metrics
	StoreAppendLatency prometheus.Histogram // Latency of durable appends
	HistorySize        prometheus.Gauge     // Records in the history at last scan

	// Session metrics
	Logins           *prometheus.CounterVec // Login attempts by result
	DashboardClients prometheus.Gauge       // Connected live dashboard clients
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ScoreRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "score_requests_total",
			Help: "Total number of score requests received",
		}),
		ScoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "score_failures_total",
			Help: "Total number of failed score requests by error kind",
		}, []string{"kind"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of persisted predictions by outcome",
		}, []string{"outcome"}),
		DashboardRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_requests_total",
			Help: "Total number of dashboard reads",
		}),
		DashboardFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_failures_total",
			Help: "Total number of failed dashboard reads by error kind",
		}, []string{"kind"}),
		Inferences: factory.NewCounter(prometheus.CounterOpts{
			Name: "inferences_total",
			Help: "Total number of model invocations",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inference_failures_total",
			Help: "Total number of failed model invocations",
		}),
		InferenceTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "inference_timeouts_total",
			Help: "Total number of model invocations that timed out",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Model invocation latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
		}),
		StoreAppendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "history_append_latency_seconds",
			Help:    "Latency of durable history appends in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "history_records",
			Help: "Number of records in the history at the last scan",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Total number of login attempts by result",
		}, []string{"result"}),
		DashboardClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_clients",
			Help: "Number of connected live dashboard clients",
		}),
	}
}
