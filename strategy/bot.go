// Package strategy runs the EMA crossover decision loop: it filters on time
// and spread, computes indicators on each new bar, manages the stops of open
// positions, closes on signal reversal and opens new risk-sized positions.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evdnx/goti"

	"github.com/evdnx/smartbot/config"
	"github.com/evdnx/smartbot/exchange"
	"github.com/evdnx/smartbot/executor"
	"github.com/evdnx/smartbot/journal"
	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/metrics"
	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/risk"
	"github.com/evdnx/smartbot/stops"
	"github.com/evdnx/smartbot/types"
)

var (
	ErrStopped    = errors.New("bot stopped")
	ErrCyclePanic = errors.New("cycle panicked")
)

// EventSink receives trade lifecycle events.
type EventSink interface {
	TradeOpened(ctx context.Context, s types.TradeSetup) error
	TradeClosed(ctx context.Context, t types.ClosedTrade) error
}

// Deps are the collaborators of a Bot. Orders may be nil in dry-run mode,
// where a paper executor is used instead.
type Deps struct {
	Market  exchange.MarketDataSource
	Account exchange.AccountSource
	Orders  executor.OrderExecutor
	Events  EventSink
	Log     logger.Logger
	Clock   func() time.Time
}

type Bot struct {
	cfg       config.Config
	primaryTF time.Duration

	market  exchange.MarketDataSource
	account exchange.AccountSource
	exec    executor.OrderExecutor
	events  EventSink
	log     logger.Logger
	now     func() time.Time

	risk      *risk.Manager
	tracker   *position.Tracker
	trailing  *stops.TrailingStopManager
	breakeven *stops.BreakevenManager

	// momentum context only, never gates a decision
	suite   *goti.IndicatorSuite
	lastFed time.Time

	mu       sync.Mutex // one cycle at a time
	running  atomic.Bool
	lastBar  time.Time
	balance  float64
	realized float64
}

// New validates cfg and wires the bot. The bot starts in the running state.
func New(cfg config.Config, deps Deps) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if deps.Market == nil || deps.Account == nil {
		return nil, fmt.Errorf("%w: market and account sources are required", types.ErrInvalidArgument)
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	exec := deps.Orders
	if cfg.DryRun {
		exec = executor.NewPaper(log)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: live trading needs an order executor", types.ErrInvalidArgument)
	}
	events := deps.Events
	if events == nil {
		events = journal.Nop{}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	tf, err := types.ParseTimeframe(cfg.PrimaryTimeframe)
	if err != nil {
		return nil, err
	}
	suite, err := goti.NewIndicatorSuiteWithConfig(goti.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("momentum suite: %w", err)
	}

	rm := risk.NewManager(risk.Config{
		RiskPercent:      cfg.RiskPercent,
		MinOrderSize:     cfg.MinOrderSize,
		TrailStepPercent: cfg.TrailStepPercent,
	}, log)
	tracker := position.NewTracker(cfg.MaxPositions, log)

	b := &Bot{
		cfg:       cfg,
		primaryTF: tf,
		market:    deps.Market,
		account:   deps.Account,
		exec:      exec,
		events:    events,
		log:       log,
		now:       now,
		risk:      rm,
		tracker:   tracker,
		trailing: stops.NewTrailingStopManager(stops.TrailingConfig{
			Enabled:      cfg.UseTrailing,
			StartPercent: cfg.TrailStartPercent,
		}, tracker, rm, exec, log),
		breakeven: stops.NewBreakevenManager(stops.BreakevenConfig{
			TriggerPercent:    cfg.BreakevenTriggerPercent,
			CommissionPercent: cfg.CommissionPercent,
		}, tracker, exec, log),
		suite: suite,
	}
	b.running.Store(true)
	return b, nil
}

// Run evaluates a cycle every PollInterval until ctx is done or Stop is
// called. A failing cycle never ends the loop.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("bot_started",
		logger.String("symbol", b.cfg.Symbol),
		logger.String("timeframe", b.cfg.PrimaryTimeframe),
		logger.Bool("dry_run", b.cfg.DryRun))
	defer b.log.Info("bot_shutdown")

	for b.running.Load() {
		if err := b.RunCycle(ctx); err != nil && !errors.Is(err, ErrStopped) {
			b.log.Error("cycle_failed", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}
	}
	return nil
}

// Stop makes the next cycle, and Run, return. In-flight calls finish.
func (b *Bot) Stop() {
	if b.running.CompareAndSwap(true, false) {
		b.log.Info("bot_stopping")
	}
}

func (b *Bot) Running() bool { return b.running.Load() }

// Positions returns the open positions, oldest first.
func (b *Bot) Positions() []position.Position { return b.tracker.List() }

// RealizedPnL is the sum of P&L of positions the bot closed.
func (b *Bot) RealizedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized
}

func (b *Bot) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

func (b *Bot) collabErr(call string, err error) {
	metrics.CollaboratorErrors.WithLabelValues(call).Inc()
	b.log.Error("collaborator_error", logger.String("call", call), logger.Err(err))
}

func (b *Bot) skip(reason string, fields ...logger.Field) {
	metrics.CyclesSkipped.WithLabelValues(reason).Inc()
	b.log.Debug("cycle_skipped", append([]logger.Field{logger.String("reason", reason)}, fields...)...)
}

// RunCycle performs one evaluation. Collaborator failures degrade to a no-op
// and return nil; only a recovered panic or a stopped bot yields an error.
func (b *Bot) RunCycle(ctx context.Context) (err error) {
	if !b.running.Load() {
		return ErrStopped
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("cycle_panic", logger.String("panic", fmt.Sprint(r)))
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()

	now := b.now().UTC()
	b.refreshBalance(ctx)

	bar := now.Truncate(b.primaryTF)
	if !bar.After(b.lastBar) {
		return nil
	}
	b.log.Info("new_bar", logger.Time("bar", bar))

	if !IsTradingHours(now.Hour(), b.cfg.StartHour, b.cfg.EndHour) {
		b.lastBar = bar
		b.skip("outside_hours", logger.Int("hour", now.Hour()))
		return nil
	}
	quote, err := b.market.FetchQuote(ctx, b.cfg.Symbol)
	if err != nil {
		b.collabErr("fetch_quote", err)
		b.skip("no_quote")
		return nil
	}
	if !CheckSpread(quote, b.cfg.MaxSpread) {
		b.lastBar = bar
		b.log.Warn("spread_too_high", logger.Float64("spread", quote.Spread()))
		b.skip("spread")
		return nil
	}

	series, err := b.market.FetchCandles(ctx, b.cfg.Symbol, b.cfg.PrimaryTimeframe, b.cfg.CandleLimit)
	if err != nil {
		b.collabErr("fetch_candles", err)
		b.skip("no_data")
		return nil
	}
	if len(series) == 0 {
		b.log.Warn("no_data", logger.String("timeframe", b.cfg.PrimaryTimeframe))
		b.skip("no_data")
		return nil
	}
	if err := series.Validate(); err != nil {
		b.log.Warn("bad_candles", logger.Err(err))
		b.skip("no_data")
		return nil
	}
	b.lastBar = bar

	return b.evaluate(ctx, now, quote, series)
}

func (b *Bot) refreshBalance(ctx context.Context) {
	bal, err := b.account.FetchFreeBalance(ctx, b.cfg.QuoteCurrencies)
	switch {
	case errors.Is(err, exchange.ErrBalanceNotFound):
		b.log.Warn("balance_not_found", logger.Err(err))
		return
	case err != nil:
		b.collabErr("fetch_balance", err)
		return
	}
	b.balance = bal
	metrics.BalanceGauge.Set(bal)
	b.log.Debug("balance_updated", logger.Float64("balance", bal))
}
