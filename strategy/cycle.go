package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/evdnx/smartbot/executor"
	"github.com/evdnx/smartbot/indicators"
	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/metrics"
	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/risk"
	"github.com/evdnx/smartbot/stops"
	"github.com/evdnx/smartbot/types"
)

const (
	purposeEntry = "entry"
	purposeClose = "close"

	ReasonSignalReversal = "signal_reversal"
)

func (b *Bot) evaluate(ctx context.Context, now time.Time, quote types.Quote, series types.Series) error {
	set, err := indicators.Compute(series, b.cfg.FastEMA, b.cfg.SlowEMA, b.cfg.ATRPeriod)
	if err != nil {
		b.log.Warn("indicator_error", logger.Err(err))
		return nil
	}
	b.feedSuite(series)

	b.managePositions(ctx, quote.Mid())

	last, _ := set.Last()
	signal := indicators.DetectCrossover(set.Fast(), set.Slow()).Signal()
	if signal == types.SignalNone {
		return nil
	}
	b.log.Info("signal_detected",
		logger.String("signal", signal.String()),
		logger.Float64("ema_fast", last.EMAFast),
		logger.Float64("ema_slow", last.EMASlow),
		logger.Float64("atr", last.ATR))
	if !CheckVolatility(last.ATR, b.cfg.MinATR) {
		b.log.Info("volatility_too_low", logger.Float64("atr", last.ATR), logger.Float64("min_atr", b.cfg.MinATR))
		return nil
	}
	metrics.SignalsDetected.WithLabelValues(signal.String()).Inc()
	side, _ := signal.Side()

	b.closeReversed(ctx, now, side, quote)

	if b.tracker.Count() > 0 {
		return nil
	}
	if !b.confirmTrend(ctx, side) {
		return nil
	}
	b.enter(ctx, now, side, quote, last.ATR)
	return nil
}

// feedSuite adds closed bars newer than the last one fed. The final bar of
// series is still forming and is left out.
func (b *Bot) feedSuite(series types.Series) {
	if len(series) < 2 {
		return
	}
	for _, c := range series[:len(series)-1] {
		if !c.Timestamp.After(b.lastFed) {
			continue
		}
		if err := b.suite.Add(c.High, c.Low, c.Close, c.Volume); err != nil {
			b.log.Warn("suite_add_error", logger.Err(err))
			continue
		}
		b.lastFed = c.Timestamp
	}
}

func (b *Bot) momentum() float64 {
	rsi, err := b.suite.GetRSI().Calculate()
	if err != nil {
		return 0
	}
	return rsi
}

func (b *Bot) managePositions(ctx context.Context, price float64) {
	for _, p := range b.tracker.List() {
		pnl, _ := b.tracker.PnL(p.ID, price)
		b.log.Debug("position_status",
			logger.String("id", p.ID),
			logger.String("side", string(p.Side)),
			logger.Float64("price", price),
			logger.Float64("pnl", pnl))

		if b.cfg.BreakevenTriggerPercent > 0 {
			if _, err := b.breakeven.MoveToBreakeven(ctx, p.ID, price); err != nil {
				b.stopErr("breakeven", p.ID, err)
			}
		}
		if b.cfg.UseTrailing {
			if _, err := b.trailing.UpdatePositionStop(ctx, p.ID, price); err != nil {
				b.stopErr("trailing", p.ID, err)
			}
		}
	}
}

func (b *Bot) stopErr(kind, id string, err error) {
	if errors.Is(err, stops.ErrExchangeUpdate) {
		metrics.CollaboratorErrors.WithLabelValues("update_stop").Inc()
	}
	b.log.Warn("stop_management_failed",
		logger.String("kind", kind),
		logger.String("id", id),
		logger.Err(err))
}

// closeReversed closes every open position on the side opposite to side.
func (b *Bot) closeReversed(ctx context.Context, now time.Time, side types.Side, quote types.Quote) {
	for _, p := range b.tracker.List() {
		if p.Side == side {
			continue
		}
		exit := quote.Bid
		if p.Side == types.Sell {
			exit = quote.Ask
		}
		b.closePosition(ctx, now, p, exit, ReasonSignalReversal)
	}
}

// closePosition cancels the resting stop of p before sending the closing
// order, since on spot the stop holds the asset the close has to sell. When
// the close fails the stop is placed again.
func (b *Bot) closePosition(ctx context.Context, now time.Time, p position.Position, exit float64, reason string) {
	canceller, hasStop := b.exec.(executor.StopCanceller)
	if hasStop {
		if err := canceller.CancelStop(ctx, p.ID); err != nil {
			b.collabErr("cancel_stop", err)
			b.log.Error("close_aborted", logger.String("id", p.ID), logger.Err(err))
			return
		}
	}
	orderID, err := b.exec.SubmitMarketOrder(ctx, p.Symbol, p.Side.Opposite(), p.Size)
	if err != nil {
		b.collabErr("submit_order", err)
		b.log.Error("order_submit_failed",
			logger.String("id", p.ID),
			logger.String("purpose", purposeClose),
			logger.Err(err))
		if hasStop {
			b.restoreStop(ctx, p)
		}
		return
	}
	metrics.OrdersSubmitted.WithLabelValues(string(p.Side.Opposite()), purposeClose).Inc()

	// refresh the profit extremes at the exit price before the record goes
	b.tracker.PnL(p.ID, exit)
	_ = b.trailing.Reset(p.ID)
	_ = b.breakeven.Reset(p.ID)
	if reg, ok := b.exec.(executor.PositionRegistry); ok {
		reg.ForgetPosition(p.ID)
	}
	final, ok := b.tracker.Remove(p.ID)
	if !ok {
		return
	}
	pnl := final.PnL(exit)
	b.realized += pnl
	metrics.RealizedPnL.Set(b.realized)
	metrics.PositionsOpen.Set(float64(b.tracker.Count()))

	b.log.Info("position_closed",
		logger.String("id", p.ID),
		logger.String("order_id", orderID),
		logger.String("reason", reason),
		logger.Float64("entry", final.EntryPrice),
		logger.Float64("exit", exit),
		logger.Float64("pnl", pnl),
		logger.Float64("realized_total", b.realized))

	b.emitClosed(ctx, types.ClosedTrade{
		PositionID:    final.ID,
		Symbol:        final.Symbol,
		Side:          final.Side,
		Entry:         final.EntryPrice,
		Exit:          exit,
		Size:          final.Size,
		RealizedPnL:   pnl,
		HighestProfit: final.HighestProfit,
		LowestProfit:  final.LowestProfit,
		Reason:        reason,
		Paper:         b.cfg.DryRun,
		OpenedAt:      final.OpenedAt,
		ClosedAt:      now,
	})
}

func (b *Bot) restoreStop(ctx context.Context, p position.Position) {
	ok, err := b.exec.UpdateStop(ctx, p.ID, p.StopLoss)
	switch {
	case err != nil:
		b.collabErr("update_stop", err)
	case !ok:
		b.log.Warn("stop_restore_refused", logger.String("id", p.ID), logger.Float64("stop", p.StopLoss))
	default:
		b.log.Info("stop_restored", logger.String("id", p.ID), logger.Float64("stop", p.StopLoss))
	}
}

// confirmTrend requires the confirmation timeframe EMAs to agree with side.
func (b *Bot) confirmTrend(ctx context.Context, side types.Side) bool {
	series, err := b.market.FetchCandles(ctx, b.cfg.Symbol, b.cfg.ConfirmationTimeframe, b.cfg.ConfirmationLimit)
	if err != nil {
		b.collabErr("fetch_confirmation", err)
		return false
	}
	if len(series) == 0 {
		b.log.Warn("no_data", logger.String("timeframe", b.cfg.ConfirmationTimeframe))
		return false
	}
	closes := series.Closes()
	fast, err := indicators.EMA(closes, b.cfg.FastEMA)
	if err != nil {
		return false
	}
	slow, err := indicators.EMA(closes, b.cfg.SlowEMA)
	if err != nil {
		return false
	}
	trend := indicators.TrendAlignment(fast, slow)
	want := types.TrendBullish
	if side == types.Sell {
		want = types.TrendBearish
	}
	if trend != want {
		b.log.Info("trend_not_confirmed",
			logger.String("side", string(side)),
			logger.String("trend", trend.String()),
			logger.String("timeframe", b.cfg.ConfirmationTimeframe))
		return false
	}
	return true
}

func (b *Bot) enter(ctx context.Context, now time.Time, side types.Side, quote types.Quote, atr float64) {
	if side == types.Sell && !b.cfg.ShortsAllowed() {
		b.log.Info("short_entries_disabled", logger.String("market", b.cfg.Exchange.Market))
		return
	}
	if b.tracker.IsAtCapacity(b.cfg.MaxPositions) {
		metrics.TradesRejected.WithLabelValues(string(risk.ReasonMaxPositions)).Inc()
		b.log.Warn("trade_rejected",
			logger.String("reason", string(risk.ReasonMaxPositions)),
			logger.Int("open", b.tracker.Count()),
			logger.Int("max", b.cfg.MaxPositions))
		return
	}
	entry := quote.Ask
	if side == types.Sell {
		entry = quote.Bid
	}
	stop, target, err := indicators.DynamicStops(atr, b.cfg.ATRMultiplierSL, b.cfg.ATRMultiplierTP, entry, side)
	if err != nil {
		b.log.Error("dynamic_stops_failed", logger.Err(err))
		return
	}
	stop, target = risk.RoundPrice(stop), risk.RoundPrice(target)

	size := b.risk.PositionSize(b.balance, entry, stop, b.cfg.Leverage)
	if v := b.risk.ValidateTrade(b.balance, size, entry, b.cfg.Leverage); !v.Valid {
		metrics.TradesRejected.WithLabelValues(string(v.Reason)).Inc()
		b.log.Warn("trade_rejected",
			logger.String("reason", string(v.Reason)),
			logger.String("message", v.Message))
		return
	}
	rr := risk.RiskRewardRatio(entry, stop, target)
	b.log.Info("trade_setup",
		logger.String("direction", string(side)),
		logger.Float64("entry", entry),
		logger.Float64("size", size),
		logger.Float64("stop_loss", stop),
		logger.Float64("take_profit", target),
		logger.Float64("risk_reward", rr))

	id, err := b.exec.SubmitMarketOrder(ctx, b.cfg.Symbol, side, size)
	if err != nil {
		b.collabErr("submit_order", err)
		b.log.Error("order_submit_failed",
			logger.String("purpose", purposeEntry),
			logger.Err(err))
		return
	}
	metrics.OrdersSubmitted.WithLabelValues(string(side), purposeEntry).Inc()
	if b.cfg.DryRun {
		b.log.Info("paper_trade", logger.String("id", id))
	} else {
		b.log.Info("order_submitted", logger.String("id", id))
	}

	if err := b.tracker.Add(position.Position{
		ID:         id,
		Symbol:     b.cfg.Symbol,
		Side:       side,
		EntryPrice: entry,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: target,
		OpenedAt:   now,
	}); err != nil {
		b.log.Error("position_register_failed", logger.String("id", id), logger.Err(err))
		return
	}
	metrics.PositionsOpen.Set(float64(b.tracker.Count()))
	if reg, ok := b.exec.(executor.PositionRegistry); ok {
		reg.RegisterPosition(id, b.cfg.Symbol, side, size)
	}

	if ok, err := b.exec.UpdateStop(ctx, id, stop); err != nil {
		b.collabErr("update_stop", err)
	} else if !ok {
		b.log.Warn("initial_stop_refused", logger.String("id", id), logger.Float64("stop", stop))
	}

	b.emitOpened(ctx, types.TradeSetup{
		PositionID: id,
		Symbol:     b.cfg.Symbol,
		Side:       side,
		Entry:      entry,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: target,
		RiskReward: rr,
		ATR:        atr,
		RSI:        b.momentum(),
		Paper:      b.cfg.DryRun,
		At:         now,
	})
}

func (b *Bot) emitOpened(ctx context.Context, s types.TradeSetup) {
	if err := b.events.TradeOpened(ctx, s); err != nil {
		b.collabErr("journal", err)
	}
}

func (b *Bot) emitClosed(ctx context.Context, t types.ClosedTrade) {
	if err := b.events.TradeClosed(ctx, t); err != nil {
		b.collabErr("journal", err)
	}
}
