// Package observability turns ledger and transport events into zap logs and Prometheus metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "coins"

// Metrics holds the collectors shared by the ledger service and the gateway.
type Metrics struct {
	operations      *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with registerer. Pass prometheus.DefaultRegisterer
// to expose them through promhttp.Handler.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations processed, labeled by operation and outcome.",
		}, []string{"operation", "status"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests, labeled by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Gateway HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// ObserveOperation counts one finished ledger operation.
func (metrics *Metrics) ObserveOperation(operation string, status string) {
	if metrics == nil {
		return
	}
	metrics.operations.WithLabelValues(operation, status).Inc()
}

// ObserveRequest records one finished HTTP request.
func (metrics *Metrics) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	if metrics == nil {
		return
	}
	metrics.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	metrics.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
