package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/metrics"
	"github.com/evdnx/smartbot/types"
)

const (
	sizeDecimals  = 6
	priceDecimals = 2

	// notional may never exceed this share of the free balance
	safetyCeiling = 0.5
)

// Config is the subset of the bot configuration the risk manager reads.
type Config struct {
	RiskPercent      float64 // % of balance risked per trade
	MinOrderSize     float64 // base asset units
	TrailStepPercent float64 // trailing distance as % of current price
}

// Manager sizes positions and validates trade setups. It holds no mutable
// state and is safe for concurrent use.
type Manager struct {
	cfg Config
	log logger.Logger
}

func NewManager(cfg Config, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{cfg: cfg, log: log}
}

// PositionSize returns the base asset quantity that risks RiskPercent of
// balance between entry and stop, scaled by leverage and rounded to 6
// decimals. A zero stop distance or a result below MinOrderSize yields
// MinOrderSize.
func (m *Manager) PositionSize(balance, entry, stop, leverage float64) float64 {
	// Dollar risk per trade
	riskAmt := balance * m.cfg.RiskPercent / 100
	// Stop distance in quote currency
	dist := math.Abs(entry - stop)
	if dist == 0 {
		m.log.Warn("zero_stop_distance",
			logger.Float64("entry", entry),
			logger.Float64("min_order_size", m.cfg.MinOrderSize))
		return m.cfg.MinOrderSize
	}

	size := decimal.NewFromFloat(riskAmt).
		Div(decimal.NewFromFloat(dist)).
		Mul(decimal.NewFromFloat(leverage)).
		Round(sizeDecimals).
		InexactFloat64()

	if size < m.cfg.MinOrderSize {
		m.log.Warn("size_below_minimum",
			logger.Float64("size", size),
			logger.Float64("min_order_size", m.cfg.MinOrderSize))
		metrics.SizeClamped.Inc()
		size = m.cfg.MinOrderSize
	}

	m.log.Debug("position_sized",
		logger.Float64("size", size),
		logger.Float64("risk_amount", riskAmt),
		logger.Float64("distance", dist))
	return size
}

// Reason classifies a failed trade validation.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInsufficientMargin Reason = "insufficient_margin"
	ReasonBelowMinimum       Reason = "below_minimum"
	ReasonSafetyCeiling      Reason = "safety_ceiling"
	// set by callers that check the open position count themselves
	ReasonMaxPositions Reason = "max_positions"
)

// Validation is the outcome of ValidateTrade. A failed validation is data,
// not an error.
type Validation struct {
	Valid   bool
	Reason  Reason
	Message string
}

// ValidateTrade checks the notional value of a setup against margin, the
// minimum order size and the safety ceiling, in that order.
func (m *Manager) ValidateTrade(balance, size, entry, leverage float64) Validation {
	notional := size * entry

	maxNotional := balance * leverage
	if notional > maxNotional {
		return Validation{
			Reason:  ReasonInsufficientMargin,
			Message: fmt.Sprintf("Position value $%.2f exceeds maximum $%.2f", notional, maxNotional),
		}
	}
	if size < m.cfg.MinOrderSize {
		return Validation{
			Reason:  ReasonBelowMinimum,
			Message: fmt.Sprintf("Position size %g below minimum %g", size, m.cfg.MinOrderSize),
		}
	}
	if notional > balance*safetyCeiling {
		return Validation{
			Reason:  ReasonSafetyCeiling,
			Message: fmt.Sprintf("Position value $%.2f too high relative to balance $%.2f", notional, balance),
		}
	}
	return Validation{Valid: true, Message: "Trade validation passed"}
}

// RiskRewardRatio returns reward/risk, or 0 when the risk is zero.
func RiskRewardRatio(entry, stop, target float64) float64 {
	r := math.Abs(entry - stop)
	if r == 0 {
		return 0
	}
	return math.Abs(target-entry) / r
}

// TrailingStopCandidate proposes a stop TrailStepPercent away from current.
// ok is false when the candidate would not tighten currentStop. A Sell with
// no stop yet (currentStop == 0) always accepts.
func (m *Manager) TrailingStopCandidate(entry, current, currentStop float64, side types.Side) (float64, bool, error) {
	dist := current * m.cfg.TrailStepPercent / 100
	switch side {
	case types.Buy:
		c := RoundPrice(current - dist)
		return c, c > currentStop, nil
	case types.Sell:
		c := RoundPrice(current + dist)
		return c, c < currentStop || currentStop == 0, nil
	}
	return 0, false, fmt.Errorf("%w: side %q", types.ErrInvalidArgument, string(side))
}

// ProfitPercent is the unrealised move from entry in the position's favour.
func ProfitPercent(entry, current float64, side types.Side) (float64, error) {
	if entry == 0 {
		return 0, fmt.Errorf("%w: entry price 0", types.ErrInvalidArgument)
	}
	switch side {
	case types.Buy:
		return (current - entry) / entry * 100, nil
	case types.Sell:
		return (entry - current) / entry * 100, nil
	}
	return 0, fmt.Errorf("%w: side %q", types.ErrInvalidArgument, string(side))
}

// RoundPrice rounds to cents.
func RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(priceDecimals).InexactFloat64()
}
