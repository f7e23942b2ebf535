// Package telemetry provides observability primitives for the proxy.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
	ActiveRequests         prometheus.Gauge
	TokensTotal            *prometheus.CounterVec // labels: model, direction (input/output)
	RoutingDecisionsTotal  *prometheus.CounterVec // labels: reason
	UsagePercent           *prometheus.GaugeVec   // labels: model
	LedgerWriteErrorsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cruise",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cruise",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cruise",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cruise",
			Name:      "tokens_total",
			Help:      "Total tokens accounted by the usage ledger.",
		}, []string{"model", "direction"}),

		RoutingDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cruise",
			Name:      "routing_decisions_total",
			Help:      "Total routing decisions that redirected a request away from the requested model.",
		}, []string{"reason"}),

		UsagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cruise",
			Name:      "usage_percent",
			Help:      "Most recent predicted usage_percent per model.",
		}, []string{"model"}),

		LedgerWriteErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cruise",
			Name:      "ledger_write_errors_total",
			Help:      "Total usage ledger writes that failed (never fails the client response).",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensTotal,
		m.RoutingDecisionsTotal,
		m.UsagePercent,
		m.LedgerWriteErrorsTotal,
	)

	return m
}
