package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts accepted orders by side (buy/sell).
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "peerdax_orders_submitted_total",
		Help: "Total number of orders accepted by the matching engine",
	},
	[]string{"side"},
)

// OrdersCancelled counts successfully cancelled orders.
var OrdersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "peerdax_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	},
)

// TradesExecuted counts trades settled by the engine.
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "peerdax_trades_executed_total",
		Help: "Total number of trades executed",
	},
)

// SubmitLatency records latency distribution for order submission, matching
// and settlement as one unit of work.
var SubmitLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "peerdax_order_submit_latency_seconds",
		Help:    "Latency in seconds to validate, match and settle an order",
		Buckets: prometheus.DefBuckets,
	},
)

// OpenOrders tracks the number of resting orders on the book, sampled
// periodically by the engine binary.
var OpenOrders = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "peerdax_open_orders",
		Help: "Number of open orders on the book by side",
	},
	[]string{"side"},
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersCancelled, TradesExecuted, SubmitLatency, OpenOrders)
}
