// Package metrics exposes the engine's Prometheus counters and gauges,
// scraped by the ops API's /metrics proxy (see internal/opsapi).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DataInvalidTotal counts ticks/candles the Data Registry rejected.
	DataInvalidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_data_invalid_total",
			Help: "Invalid ticks/candles rejected by the Data Registry.",
		},
		[]string{"symbol", "reason"},
	)

	// PriceSourceTotal is registered to count price readings per fallback-chain
	// source; nothing in the engine increments it, so it stays at zero.
	PriceSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_price_source_total",
			Help: "Price readings by fallback-chain source.",
		},
		[]string{"symbol", "source"},
	)

	// SignalsGeneratedTotal counts proposals emitted by each generator.
	SignalsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_signals_generated_total",
			Help: "Proposals emitted per generator and symbol.",
		},
		[]string{"symbol", "strategy"},
	)

	// FilterRejectionsTotal counts filter-stack rejections by filter name and reason.
	FilterRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_filter_rejections_total",
			Help: "Proposals rejected per filter and reason.",
		},
		[]string{"filter", "reason"},
	)

	// PositionsOpenGauge is the current number of open positions, process-wide.
	PositionsOpenGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_positions_open",
			Help: "Currently open positions.",
		},
	)

	// ExitReasonsTotal counts closes by reason and side.
	ExitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_exit_reasons_total",
			Help: "Position closes split by reason and side.",
		},
		[]string{"reason", "side"},
	)

	// RealizedPnLUSD is the cumulative realized PnL since process start.
	RealizedPnLUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_realized_pnl_usd",
			Help: "Cumulative realized PnL in USD since process start.",
		},
	)

	// CircuitBreakerTripsTotal counts risk-controller trips.
	CircuitBreakerTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scalper_circuit_breaker_trips_total",
			Help: "Risk controller circuit breaker trips.",
		},
	)

	// ExchangeLatencySeconds tracks the Connection Quality Monitor's probe results.
	ExchangeLatencySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_exchange_latency_seconds",
			Help: "Most recent exchange round-trip latency probe.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DataInvalidTotal,
		PriceSourceTotal,
		SignalsGeneratedTotal,
		FilterRejectionsTotal,
		PositionsOpenGauge,
		ExitReasonsTotal,
		RealizedPnLUSD,
		CircuitBreakerTripsTotal,
		ExchangeLatencySeconds,
	)
}
