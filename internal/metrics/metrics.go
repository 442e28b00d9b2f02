// Package metrics exposes the router's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the router updates. All collectors are
// registered on the registry passed to New, so tests can use private
// registries.
type Metrics struct {
	SignalsReceived *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	OrdersPlaced    *prometheus.CounterVec
	FillWaitSeconds prometheus.Histogram
	EmergencyStop   prometheus.Gauge
	CacheSweeps     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SignalsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "router_signals_received_total",
			Help: "Webhook signals received, by outcome of intake parsing.",
		}, []string{"outcome"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "router_executions_total",
			Help: "Signal executions, by account, transition and result.",
		}, []string{"account", "transition", "result"}),
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "router_orders_placed_total",
			Help: "Broker orders placed, by account and side.",
		}, []string{"account", "side"}),
		FillWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "router_fill_wait_seconds",
			Help:    "Time spent waiting for order fills.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		EmergencyStop: factory.NewGauge(prometheus.GaugeOpts{
			Name: "router_emergency_stop",
			Help: "1 while the emergency stop is engaged.",
		}),
		CacheSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "router_cache_entries_swept_total",
			Help: "Stale broker cache entries dropped by the periodic sweep.",
		}),
	}
}
