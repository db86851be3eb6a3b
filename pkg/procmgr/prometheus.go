package procmgr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Lifecycle metrics
	phaseTransitions *prometheus.CounterVec
	launchDuration   *prometheus.HistogramVec
	portRetries      prometheus.Counter

	// Interception metrics
	callsRegistered  *prometheus.CounterVec
	connectedCallers prometheus.Gauge

	// Reset metrics
	resetDuration    *prometheus.HistogramVec
	resetCollections prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "mockstore"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	// Phase transitions
	pmc.phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of ephemeral service phase transitions",
		},
		[]string{"from_phase", "to_phase"},
	)

	// Launch attempts
	pmc.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Duration of ephemeral service launch attempts",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	// Port retries
	pmc.portRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_retries_total",
			Help:      "Total number of launch retries caused by port contention",
		},
	)

	// Registered calls
	pmc.callsRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_registered_total",
			Help:      "Total number of intercepted connection calls",
		},
		[]string{"method"},
	)

	// Connected callers
	pmc.connectedCallers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_callers",
			Help:      "Current number of callers connected to the ephemeral service",
		},
	)

	// Resets
	pmc.resetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reset_duration_seconds",
			Help:      "Duration of data resets",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	pmc.resetCollections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_collections_total",
			Help:      "Total number of collections emptied by data resets",
		},
	)

	// Register all metrics
	pmc.registry.MustRegister(
		pmc.phaseTransitions,
		pmc.launchDuration,
		pmc.portRetries,
		pmc.callsRegistered,
		pmc.connectedCallers,
		pmc.resetDuration,
		pmc.resetCollections,
	)

	return pmc
}

// PhaseTransition records a phase transition
func (pmc *PrometheusMetricsCollector) PhaseTransition(from, to Phase) {
	pmc.phaseTransitions.WithLabelValues(
		from.String(),
		to.String(),
	).Inc()
}

// LaunchAttempt records the duration and outcome of a launch attempt
func (pmc *PrometheusMetricsCollector) LaunchAttempt(port int, duration time.Duration, err error) {
	pmc.launchDuration.WithLabelValues(
		statusLabel(err),
	).Observe(duration.Seconds())
}

// PortRetry records a retry after port contention. The port is not a label;
// the port walk is unbounded.
func (pmc *PrometheusMetricsCollector) PortRetry(port int) {
	pmc.portRetries.Inc()
}

// CallRegistered records an intercepted call
func (pmc *PrometheusMetricsCollector) CallRegistered(method string) {
	pmc.callsRegistered.WithLabelValues(method).Inc()
}

// ConnectedCallers records the current number of connected callers
func (pmc *PrometheusMetricsCollector) ConnectedCallers(n int) {
	pmc.connectedCallers.Set(float64(n))
}

// DataReset records a data reset
func (pmc *PrometheusMetricsCollector) DataReset(collections int, duration time.Duration, err error) {
	pmc.resetDuration.WithLabelValues(
		statusLabel(err),
	).Observe(duration.Seconds())
	pmc.resetCollections.Add(float64(collections))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
