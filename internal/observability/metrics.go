// Package observability holds the Prometheus metrics for the service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for LARS.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Oracle metrics.
	OracleRequestsTotal   *prometheus.CounterVec
	OracleRequestDuration *prometheus.HistogramVec

	// Plan and safety validation metrics.
	PlanValidationsTotal *prometheus.CounterVec
	SafetyChecksTotal    *prometheus.CounterVec

	// Snippet execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		OracleRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lars",
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Total oracle planning requests.",
		}, []string{"provider", "status"}),

		OracleRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lars",
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Oracle planning request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		PlanValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lars",
			Subsystem: "plan",
			Name:      "validations_total",
			Help:      "Total plan validations.",
		}, []string{"result"}),

		SafetyChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lars",
			Subsystem: "safety",
			Name:      "checks_total",
			Help:      "Total code safety checks.",
		}, []string{"result"}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lars",
			Subsystem: "harness",
			Name:      "executions_total",
			Help:      "Total snippet executions.",
		}, []string{"action", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lars",
			Subsystem: "harness",
			Name:      "execution_duration_seconds",
			Help:      "Snippet execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"action"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lars",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lars",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lars",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.OracleRequestsTotal,
		m.OracleRequestDuration,
		m.PlanValidationsTotal,
		m.SafetyChecksTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

func statusCode(code int) string { return strconv.Itoa(code) }
