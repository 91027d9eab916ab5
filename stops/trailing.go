package stops

import (
	"context"
	"fmt"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/risk"
)

type TrailingConfig struct {
	Enabled      bool
	StartPercent float64 // profit % that activates trailing
}

// TrailingStopManager moves a position's stop from inactive to trailing once
// profit reaches StartPercent. Activation is one-way until Reset or close.
type TrailingStopManager struct {
	cfg     TrailingConfig
	tracker *position.Tracker
	risk    *risk.Manager
	updater StopUpdater
	log     logger.Logger
}

// NewTrailingStopManager wires the manager. updater may be nil, in which case
// only the tracked stop moves.
func NewTrailingStopManager(cfg TrailingConfig, tracker *position.Tracker, rm *risk.Manager, updater StopUpdater, log logger.Logger) *TrailingStopManager {
	if log == nil {
		log = logger.Nop()
	}
	return &TrailingStopManager{cfg: cfg, tracker: tracker, risk: rm, updater: updater, log: log}
}

// ShouldActivate reports whether trailing is (or just became) active for id.
func (m *TrailingStopManager) ShouldActivate(id string, current float64) (bool, error) {
	if !m.cfg.Enabled {
		return false, nil
	}
	p, ok := m.tracker.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", position.ErrNotFound, id)
	}
	if p.Stops.TrailingActive {
		return true, nil
	}
	profit, err := risk.ProfitPercent(p.EntryPrice, current, p.Side)
	if err != nil {
		return false, err
	}
	if profit < m.cfg.StartPercent {
		return false, nil
	}
	if err := m.tracker.SetTrailingActive(id); err != nil {
		return false, err
	}
	m.log.Info("trailing_activated",
		logger.String("id", id),
		logger.Float64("profit_pct", profit))
	return true, nil
}

// CalculateNewStop returns the next trailing stop for id, or ok=false when
// trailing is inactive or the candidate would not tighten the stop.
func (m *TrailingStopManager) CalculateNewStop(id string, current float64) (float64, bool, error) {
	active, err := m.ShouldActivate(id, current)
	if err != nil || !active {
		return 0, false, err
	}
	p, ok := m.tracker.Get(id)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", position.ErrNotFound, id)
	}
	next, ok, err := m.risk.TrailingStopCandidate(p.EntryPrice, current, p.StopLoss, p.Side)
	if err != nil || !ok {
		return 0, false, err
	}
	m.log.Debug("trailing_candidate",
		logger.String("id", id),
		logger.Float64("from", p.StopLoss),
		logger.Float64("to", next))
	return next, true, nil
}

// UpdatePositionStop ratchets the stop of id toward current. It reports
// whether the stop moved; the local stop is kept even when the exchange
// update fails, in which case ErrExchangeUpdate is returned.
func (m *TrailingStopManager) UpdatePositionStop(ctx context.Context, id string, current float64) (bool, error) {
	next, ok, err := m.CalculateNewStop(id, current)
	if err != nil || !ok {
		return false, err
	}
	p, found := m.tracker.Get(id)
	if !found {
		return false, fmt.Errorf("%w: %s", position.ErrNotFound, id)
	}
	if !tightens(p.Side, p.StopLoss, next) {
		return false, nil
	}
	if err := apply(ctx, "trailing", m.tracker, m.updater, m.log, id, next); err != nil {
		return false, err
	}
	return true, nil
}

// Reset deactivates trailing for id.
func (m *TrailingStopManager) Reset(id string) error {
	if err := m.tracker.ResetTrailing(id); err != nil {
		return err
	}
	m.log.Info("trailing_reset", logger.String("id", id))
	return nil
}

func (m *TrailingStopManager) Status(id string) bool { return m.tracker.TrailingActive(id) }

// ActivePositions lists ids with trailing active, oldest first.
func (m *TrailingStopManager) ActivePositions() []string { return m.tracker.TrailingPositions() }
