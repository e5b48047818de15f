package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "limitlock",
		Subsystem: "escrow",
		Name:      "orders_created_total",
		Help:      "Total orders escrowed across all instances.",
	})

	ordersFilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "limitlock",
		Subsystem: "escrow",
		Name:      "orders_filled_total",
		Help:      "Total orders settled, by fill path.",
	}, []string{"path"}) // "direct", "with_other"

	callsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "limitlock",
		Subsystem: "escrow",
		Name:      "calls_rejected_total",
		Help:      "Total reverted entry-point calls, by reason.",
	}, []string{"reason"})

	liveOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "limitlock",
		Subsystem: "escrow",
		Name:      "live_orders",
		Help:      "Currently live orders across all instances.",
	})
)

func registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ordersCreated, ordersFilled, callsRejected, liveOrders)
}
