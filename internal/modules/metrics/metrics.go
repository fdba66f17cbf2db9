package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Price feed
	QuotesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_quotes_applied_total",
			Help: "Quotes merged into the price feed",
		},
		[]string{"origin"}, // stream | poll | single
	)
	FeedPollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "terminal_feed_poll_failures_total",
			Help: "Failed batch price polls",
		},
	)
	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "terminal_stream_connected",
			Help: "1 while the push price channel is connected",
		},
	)

	// Orders
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_orders_submitted_total",
			Help: "Order submissions by outcome",
		},
		[]string{"outcome"}, // confirmed | rejected | error
	)
	ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_order_validation_failures_total",
			Help: "Draft validation failures by field",
		},
		[]string{"field"},
	)

	// Positions
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terminal_reconcile_duration_seconds",
			Help:    "Duration of a position reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
	ReconcileFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "terminal_reconcile_failures_total",
			Help: "Reconciliation cycles that failed to fetch positions",
		},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "terminal_open_positions",
			Help: "Open positions after the last applied cycle",
		},
	)
	PriceUnavailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "terminal_positions_price_unavailable",
			Help: "Open positions without a price in the last applied cycle",
		},
	)
	Closes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_position_closes_total",
			Help: "Position close attempts by outcome",
		},
		[]string{"outcome"}, // ok | failed
	)

	// Quota
	CopyTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_copy_trades_total",
			Help: "Recorded signal copies by tier",
		},
		[]string{"tier"},
	)
	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_copy_quota_rejections_total",
			Help: "Signal copies blocked by the daily quota",
		},
		[]string{"tier"},
	)
)

// NewRegistry returns a registry holding every terminal collector plus the
// Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		QuotesApplied,
		FeedPollFailures,
		StreamConnected,
		OrdersSubmitted,
		ValidationFailures,
		ReconcileDuration,
		ReconcileFailures,
		OpenPositions,
		PriceUnavailable,
		Closes,
		CopyTrades,
		QuotaRejections,
	)
	return reg
}
