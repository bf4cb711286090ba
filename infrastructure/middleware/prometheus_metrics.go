// Package middleware provides cross-cutting concerns for the analysis
// pipeline, currently the Prometheus-backed metrics collector.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// Metric names understood by PrometheusMetrics. Unknown names fall through
// to the generic operation series.
const (
	MetricLLMRequests         = "llm_requests_total"
	MetricLLMTokens           = "llm_tokens_total"
	MetricLLMImages           = "llm_images_total"
	MetricLLMLatency          = "llm_latency_seconds"
	MetricAnalyses            = "analyses_total"
	MetricModelFailures       = "model_failures_total"
	MetricEnsembleSize        = "ensemble_size"
	MetricConsensusConfidence = "consensus_confidence"
	MetricHealthScore         = "consensus_health_score"
	MetricCircuitState        = "llm_circuit_state"
	MetricCircuitRejections   = "llm_circuit_rejections_total"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It tracks vision request volume and cost, analysis outcomes per mode,
// and the shape of consensus results.
type PrometheusMetrics struct {
	llmRequests         *prometheus.CounterVec
	llmTokens           *prometheus.CounterVec
	llmImages           *prometheus.CounterVec
	llmLatency          *prometheus.HistogramVec
	analyses            *prometheus.CounterVec
	modelFailures       *prometheus.CounterVec
	ensembleSize        *prometheus.HistogramVec
	consensusConfidence *prometheus.HistogramVec
	healthScore         *prometheus.HistogramVec
	circuitState        *prometheus.GaugeVec
	circuitRejections   *prometheus.CounterVec
	operationLatency    *prometheus.HistogramVec
	operationCounter    *prometheus.CounterVec
	systemGauges        *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance whose series are
// registered with reg. Pass prometheus.DefaultRegisterer for the global
// registry or a fresh prometheus.NewRegistry() in tests.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Vision request metrics, fed by llm.MetricsMiddleware.
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_llm_requests_total",
				Help: "Vision requests sent to LLM providers.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_llm_tokens_total",
				Help: "Tokens consumed by vision requests.",
			},
			[]string{"provider", "model", "token_type"},
		),
		llmImages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_llm_images_total",
				Help: "Images sent to LLM providers.",
			},
			[]string{"provider", "model"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nutriscan_llm_latency_seconds",
				Help:    "Latency of vision requests.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"provider", "model", "status"},
		),

		// Analysis outcome metrics, fed by the analyzers and the service.
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_analyses_total",
				Help: "Meal analyses by mode and outcome.",
			},
			[]string{"mode", "status"},
		),
		modelFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_model_failures_total",
				Help: "Individual model failures inside fallback chains and ensembles.",
			},
			[]string{"model", "mode"},
		),
		ensembleSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nutriscan_ensemble_size",
				Help:    "Number of successful model results merged per ensemble analysis.",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"mode"},
		),
		consensusConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nutriscan_consensus_confidence",
				Help:    "Confidence of consensus food items.",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"mode"},
		),
		healthScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nutriscan_consensus_health_score",
				Help:    "Health score of returned analyses.",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"mode"},
		),

		// Per-model circuit breakers, fed by llm.CircuitBreakerMiddleware.
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nutriscan_llm_circuit_state",
				Help: "Circuit breaker state per model (0 closed, 1 open, 2 half-open).",
			},
			[]string{"model"},
		),
		circuitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_llm_circuit_rejections_total",
				Help: "Requests rejected by an open circuit breaker.",
			},
			[]string{"model"},
		),

		// General metrics for everything else.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nutriscan_operation_duration_seconds",
				Help:    "Execution time of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutriscan_operations_total",
				Help: "Counters not covered by a dedicated series.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nutriscan_system_state",
				Help: "Current system state values.",
			},
			[]string{"metric"},
		),
	}
}

// label returns labels[key], or "unknown" when the key is absent or empty.
// Prometheus rejects missing label values, so every series gets a value.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "token_type"),
		).Add(value)
	case MetricLLMImages:
		pm.llmImages.WithLabelValues(label(labels, "provider"), label(labels, "model")).Add(value)
	case MetricAnalyses:
		pm.analyses.WithLabelValues(label(labels, "mode"), label(labels, "status")).Add(value)
	case MetricModelFailures:
		pm.modelFailures.WithLabelValues(label(labels, "model"), label(labels, "mode")).Add(value)
	case MetricCircuitRejections:
		pm.circuitRejections.WithLabelValues(label(labels, "model")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, label(labels, "status")).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	if metric == MetricCircuitState {
		pm.circuitState.WithLabelValues(label(labels, "model")).Set(value)
		return
	}
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in the histogram matching metric.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Observe(value)
	case MetricEnsembleSize:
		pm.ensembleSize.WithLabelValues(label(labels, "mode")).Observe(value)
	case MetricConsensusConfidence:
		pm.consensusConfidence.WithLabelValues(label(labels, "mode")).Observe(value)
	case MetricHealthScore:
		pm.healthScore.WithLabelValues(label(labels, "mode")).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
