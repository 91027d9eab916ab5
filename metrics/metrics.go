package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_orders_submitted_total",
			Help: "Total number of market orders submitted (by side and purpose).",
		},
		[]string{"side", "purpose"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartbot_positions_open",
			Help: "Current number of tracked open positions.",
		},
	)

	BalanceGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartbot_free_balance",
			Help: "Last observed free balance in the quote currency.",
		},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartbot_realized_pnl",
			Help: "Cumulative realized P&L of positions closed by the bot.",
		},
	)

	SignalsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_signals_total",
			Help: "Crossover signals that passed the volatility filter.",
		},
		[]string{"signal"},
	)

	TradesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_trades_rejected_total",
			Help: "Trade setups rejected before submission (by reason).",
		},
		[]string{"reason"},
	)

	StopUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_stop_updates_total",
			Help: "Protective stop adjustments (by kind and result).",
		},
		[]string{"kind", "result"},
	)

	SizeClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smartbot_size_clamped_total",
			Help: "Position sizes raised to the minimum order size.",
		},
	)

	CollaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_collaborator_errors_total",
			Help: "Failed calls to market data, account or order collaborators.",
		},
		[]string{"call"},
	)

	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbot_cycles_skipped_total",
			Help: "Evaluation cycles skipped before the signal stage (by reason).",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		PositionsOpen,
		BalanceGauge,
		RealizedPnL,
		SignalsDetected,
		TradesRejected,
		StopUpdates,
		SizeClamped,
		CollaboratorErrors,
		CyclesSkipped,
	)
}
