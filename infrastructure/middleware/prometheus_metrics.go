// Package middleware provides cross-cutting infrastructure for the
// visibility engine: Prometheus metrics collection, iteration quota
// management, and progress observation.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It exposes per-call LLM request metrics alongside
// batch-run level counters for monitoring sampling throughput and
// provider health.
type PrometheusMetrics struct {
	requestLatency *prometheus.HistogramVec
	requestCounter *prometheus.CounterVec
	tokenCounter   *prometheus.CounterVec
	runLatency     *prometheus.HistogramVec
	runCounter     *prometheus.CounterVec
	progressGauge  *prometheus.GaugeVec
	genericCounter *prometheus.CounterVec
	genericGauge   *prometheus.GaugeVec
}

// NewPrometheusMetrics registers all engine metrics in the default
// Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWith(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsWith registers the engine metrics in the given
// registerer. Tests use this with a fresh registry to avoid duplicate
// registration panics.
func NewPrometheusMetricsWith(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Latency of individual LLM provider calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM provider calls by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		tokenCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens consumed by direction.",
			},
			[]string{"provider", "model", "token_type"},
		),
		runLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batch_run_duration_seconds",
				Help:    "Wall-clock duration of complete batch runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"provider", "model"},
		),
		runCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_runs_total",
				Help: "Total batch runs by outcome.",
			},
			[]string{"provider", "model", "outcome"},
		),
		progressGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batch_run_iterations",
				Help: "Iteration progress of in-flight batch runs.",
			},
			[]string{"run_id", "state"},
		),
		genericCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visibility_engine_events_total",
				Help: "Engine events not covered by a dedicated metric.",
			},
			[]string{"metric"},
		),
		genericGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "visibility_engine_state",
				Help: "Engine state values not covered by a dedicated metric.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records the execution time of an operation.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case "batch_run":
		pm.runLatency.WithLabelValues(labels["provider"], labels["model"]).
			Observe(duration.Seconds())
	default:
		pm.requestLatency.WithLabelValues(labels["provider"], labels["model"], labels["status"]).
			Observe(duration.Seconds())
	}
}

// RecordCounter increments the counter backing the named metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_requests_total":
		pm.requestCounter.WithLabelValues(labels["provider"], labels["model"], labels["status"]).
			Add(value)
	case "llm_tokens_total":
		pm.tokenCounter.WithLabelValues(labels["provider"], labels["model"], labels["token_type"]).
			Add(value)
	case "batch_runs_total":
		pm.runCounter.WithLabelValues(labels["provider"], labels["model"], labels["outcome"]).
			Add(value)
	default:
		pm.genericCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the current value of a gauge metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "batch_run_iterations":
		pm.progressGauge.WithLabelValues(labels["run_id"], labels["state"]).Set(value)
	default:
		pm.genericGauge.WithLabelValues(metric).Set(value)
	}
}

// DeleteGauge removes a gauge series. Progress gauges are keyed by run ID,
// so the engine deletes them once a run reaches a terminal state.
func (pm *PrometheusMetrics) DeleteGauge(metric string, labels map[string]string) {
	switch metric {
	case "batch_run_iterations":
		pm.progressGauge.DeleteLabelValues(labels["run_id"], labels["state"])
	default:
		pm.genericGauge.DeleteLabelValues(metric)
	}
}

// RecordHistogram records a value in the request-latency histogram; the
// engine has no other histogram-shaped metrics.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_request_duration_seconds":
		pm.requestLatency.WithLabelValues(labels["provider"], labels["model"], labels["status"]).
			Observe(value)
	default:
		pm.genericGauge.WithLabelValues(metric).Set(value)
	}
}
