package stops

import (
	"context"
	"fmt"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/risk"
	"github.com/evdnx/smartbot/types"
)

type BreakevenConfig struct {
	TriggerPercent    float64 // 0 disables
	CommissionPercent float64 // round trip, added beyond entry
}

// BreakevenManager moves a stop to entry plus fees once, the first time
// profit reaches TriggerPercent.
type BreakevenManager struct {
	cfg     BreakevenConfig
	tracker *position.Tracker
	updater StopUpdater
	log     logger.Logger
}

func NewBreakevenManager(cfg BreakevenConfig, tracker *position.Tracker, updater StopUpdater, log logger.Logger) *BreakevenManager {
	if log == nil {
		log = logger.Nop()
	}
	return &BreakevenManager{cfg: cfg, tracker: tracker, updater: updater, log: log}
}

// ShouldMoveToBreakeven is true exactly once per position: on the first call
// where profit reaches the trigger. Later calls return false until Reset.
func (m *BreakevenManager) ShouldMoveToBreakeven(id string, current float64) (bool, error) {
	if m.cfg.TriggerPercent <= 0 {
		return false, nil
	}
	p, ok := m.tracker.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", position.ErrNotFound, id)
	}
	if p.Stops.BreakevenSet {
		return false, nil
	}
	profit, err := risk.ProfitPercent(p.EntryPrice, current, p.Side)
	if err != nil {
		return false, err
	}
	if profit < m.cfg.TriggerPercent {
		return false, nil
	}
	if err := m.tracker.SetBreakevenSet(id); err != nil {
		return false, err
	}
	m.log.Info("breakeven_triggered",
		logger.String("id", id),
		logger.Float64("profit_pct", profit))
	return true, nil
}

// BreakevenPrice is entry moved by the commission buffer in the position's
// favour: above entry for a Buy, below for a Sell.
func (m *BreakevenManager) BreakevenPrice(entry float64, side types.Side) (float64, error) {
	buf := entry * m.cfg.CommissionPercent / 100
	switch side {
	case types.Buy:
		return risk.RoundPrice(entry + buf), nil
	case types.Sell:
		return risk.RoundPrice(entry - buf), nil
	}
	return 0, fmt.Errorf("%w: side %q", types.ErrInvalidArgument, string(side))
}

// MoveToBreakeven applies the breakeven stop when the trigger fires and the
// price tightens the current stop. It reports whether the stop moved.
func (m *BreakevenManager) MoveToBreakeven(ctx context.Context, id string, current float64) (bool, error) {
	fire, err := m.ShouldMoveToBreakeven(id, current)
	if err != nil || !fire {
		return false, err
	}
	p, ok := m.tracker.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", position.ErrNotFound, id)
	}
	price, err := m.BreakevenPrice(p.EntryPrice, p.Side)
	if err != nil {
		return false, err
	}
	if !tightens(p.Side, p.StopLoss, price) {
		m.log.Debug("breakeven_not_tighter",
			logger.String("id", id),
			logger.Float64("stop", p.StopLoss),
			logger.Float64("breakeven", price))
		return false, nil
	}
	if err := apply(ctx, "breakeven", m.tracker, m.updater, m.log, id, price); err != nil {
		return false, err
	}
	return true, nil
}

// Reset allows the breakeven move to fire again for id.
func (m *BreakevenManager) Reset(id string) error {
	return m.tracker.ResetBreakeven(id)
}
