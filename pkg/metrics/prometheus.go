// Package metrics provides Prometheus metrics for the emotion service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every collector the service exports.
type Manager struct {
	namespace      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	framesProcessed    *prometheus.CounterVec
	inferenceLatency   *prometheus.HistogramVec
	stabilizedEmotions *prometheus.CounterVec
	decodeFailures     prometheus.Counter
	strategyFaults     *prometheus.CounterVec
	strategyAvailable  *prometheus.GaugeVec

	dispatchRejected *prometheus.CounterVec
	dispatchSkipped  prometheus.Counter
	activeSessions   prometheus.Gauge

	replyRequests *prometheus.CounterVec
	proactive     *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "emora",
		latencyBuckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.framesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "frames_processed_total",
		Help:      "Frames processed, by the strategy that produced the detection",
	}, []string{"strategy"})

	m.inferenceLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "inference_duration_seconds",
		Help:      "Time from decode to stabilized label",
		Buckets:   m.latencyBuckets,
	}, []string{"strategy"})

	m.stabilizedEmotions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "stabilized_emotions_total",
		Help:      "Stabilized labels emitted to clients",
	}, []string{"emotion"})

	m.decodeFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "decode_failures_total",
		Help:      "Frames that could not be decoded",
	})

	m.strategyFaults = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "classifier",
		Name:      "faults_total",
		Help:      "Errors and panics raised by classifier strategies",
	}, []string{"strategy"})

	m.strategyAvailable = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "classifier",
		Name:      "available",
		Help:      "1 when the strategy passed its availability probe",
	}, []string{"strategy"})

	m.dispatchRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "dispatch",
		Name:      "rejected_total",
		Help:      "Tasks refused by the dispatcher",
	}, []string{"reason"})

	m.dispatchSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "dispatch",
		Name:      "skipped_total",
		Help:      "Tasks dropped because their session closed before they ran",
	})

	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Sessions with live smoothing state",
	})

	m.replyRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "reply",
		Name:      "requests_total",
		Help:      "Reply generator calls by provider and outcome",
	}, []string{"provider", "outcome"})

	m.proactive = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sessions",
		Name:      "proactive_triggers_total",
		Help:      "Proactive prompts fired by sustained emotions",
	}, []string{"emotion"})
}

// RecordFrame records one processed frame and its latency.
func RecordFrame(strategy string, latency time.Duration) {
	if strategy == "" {
		strategy = "none"
	}
	globalManager.framesProcessed.WithLabelValues(strategy).Inc()
	globalManager.inferenceLatency.WithLabelValues(strategy).Observe(latency.Seconds())
}

// RecordStabilized counts a label sent to a client.
func RecordStabilized(emotion string) {
	globalManager.stabilizedEmotions.WithLabelValues(emotion).Inc()
}

// RecordDecodeFailure counts an undecodable frame.
func RecordDecodeFailure() {
	globalManager.decodeFailures.Inc()
}

// RecordStrategyFault counts an error or panic from a strategy.
func RecordStrategyFault(strategy string) {
	globalManager.strategyFaults.WithLabelValues(strategy).Inc()
}

// SetStrategyAvailable publishes a probe outcome.
func SetStrategyAvailable(strategy string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	globalManager.strategyAvailable.WithLabelValues(strategy).Set(v)
}

// RecordDispatchRejected counts a refused task.
func RecordDispatchRejected(reason string) {
	globalManager.dispatchRejected.WithLabelValues(reason).Inc()
}

// RecordDispatchSkipped counts a task dropped before running.
func RecordDispatchSkipped() {
	globalManager.dispatchSkipped.Inc()
}

// UpdateActiveSessions sets the live session gauge.
func UpdateActiveSessions(count int) {
	globalManager.activeSessions.Set(float64(count))
}

// RecordReply counts a reply generator call.
func RecordReply(provider, outcome string) {
	globalManager.replyRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordProactive counts a fired proactive prompt.
func RecordProactive(emotion string) {
	globalManager.proactive.WithLabelValues(emotion).Inc()
}

// GetRegistry returns the custom registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
