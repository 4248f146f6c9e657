package scorer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toxicity_client_requests_total",
			Help: "Total number of scoring backend requests",
		},
		[]string{"operation", "transport", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toxicity_client_request_duration_seconds",
			Help:    "Duration of scoring backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "transport"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toxicity_client_direct_fallbacks_total",
			Help: "Calls that asked for the direct transport but used the proxy",
		},
		[]string{"operation"},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toxicity_client_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	clientState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toxicity_client_direct_client_state",
			Help: "Direct client state (0=uninitialized, 1=loading, 2=ready, 3=unavailable)",
		},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toxicity_client_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toxicity_client_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toxicity_client_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	scoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toxicity_client_score_distribution",
			Help:    "Distribution of TOXICITY summary scores (0-1)",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)
)

// MetricsRecorder provides methods to record metrics
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

// Enabled reports whether the recorder records anything
func (m *MetricsRecorder) Enabled() bool {
	return m != nil && m.enabled
}

// RecordRequest records a finished request
func (m *MetricsRecorder) RecordRequest(operation, transport, status string) {
	if !m.Enabled() {
		return
	}
	requestsTotal.WithLabelValues(operation, transport, status).Inc()
}

// RecordRequestDuration records request duration
func (m *MetricsRecorder) RecordRequestDuration(seconds float64, operation, transport string) {
	if !m.Enabled() {
		return
	}
	requestDuration.WithLabelValues(operation, transport).Observe(seconds)
}

// RecordFallback records a direct-to-proxy fallback
func (m *MetricsRecorder) RecordFallback(operation string) {
	if !m.Enabled() {
		return
	}
	fallbacksTotal.WithLabelValues(operation).Inc()
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.Enabled() {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordClientState records the direct client state
func (m *MetricsRecorder) RecordClientState(state ClientState) {
	if !m.Enabled() {
		return
	}
	clientState.Set(float64(state))
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.Enabled() {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.Enabled() {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.Enabled() {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// RecordScore records a toxicity score
func (m *MetricsRecorder) RecordScore(score float64) {
	if !m.Enabled() {
		return
	}
	scoreDistribution.Observe(score)
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}
