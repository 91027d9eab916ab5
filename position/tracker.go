// Package position keeps the in-memory registry of open positions together
// with their profit extremes and stop management state.
package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/types"
)

var (
	ErrDuplicateID  = errors.New("position id already tracked")
	ErrNotFound     = errors.New("position not found")
	ErrAtCapacity   = errors.New("position capacity reached")
	ErrStopLoosened = errors.New("stop would loosen")
)

// StopState records which one-way stop transitions already happened.
type StopState struct {
	TrailingActive bool
	BreakevenSet   bool
}

type Position struct {
	ID         string
	Symbol     string
	Side       types.Side
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time

	HighestProfit float64
	LowestProfit  float64

	Stops StopState
}

func (p Position) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty position id", types.ErrInvalidArgument)
	}
	if err := p.Side.Validate(); err != nil {
		return err
	}
	if p.EntryPrice <= 0 || p.Size <= 0 {
		return fmt.Errorf("%w: entry %v size %v", types.ErrInvalidArgument, p.EntryPrice, p.Size)
	}
	return nil
}

// PnL is the unrealised profit of p at price.
func (p Position) PnL(price float64) float64 {
	if p.Side == types.Buy {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Tracker is the single owner of open positions. All methods are safe for
// concurrent use.
type Tracker struct {
	mu           sync.Mutex
	maxPositions int
	positions    map[string]*Position
	log          logger.Logger
}

// NewTracker returns a tracker that refuses more than maxPositions entries.
// maxPositions <= 0 means unlimited.
func NewTracker(maxPositions int, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{
		maxPositions: maxPositions,
		positions:    make(map[string]*Position),
		log:          log,
	}
}

// Add registers p. Profit extremes and stop state start at zero.
func (t *Tracker) Add(p Position) error {
	if err := p.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.positions[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	if t.maxPositions > 0 && len(t.positions) >= t.maxPositions {
		return fmt.Errorf("%w: %d open", ErrAtCapacity, len(t.positions))
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.HighestProfit, p.LowestProfit = 0, 0
	p.Stops = StopState{}
	t.positions[p.ID] = &p
	t.log.Info("position_added",
		logger.String("id", p.ID),
		logger.String("side", string(p.Side)),
		logger.Float64("entry", p.EntryPrice),
		logger.Float64("size", p.Size),
		logger.Float64("stop_loss", p.StopLoss),
		logger.Float64("take_profit", p.TakeProfit))
	return nil
}

// Remove drops the position and returns its final state.
func (t *Tracker) Remove(id string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return Position{}, false
	}
	delete(t.positions, id)
	t.log.Info("position_removed", logger.String("id", id))
	return *p, true
}

func (t *Tracker) Get(id string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// List returns copies of all positions, oldest first.
func (t *Tracker) List() []Position {
	t.mu.Lock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// IsAtCapacity reports count >= max.
func (t *Tracker) IsAtCapacity(max int) bool {
	return t.Count() >= max
}

// UpdateStop moves the stop of id. A Buy stop may only rise and a Sell stop
// may only fall; a Sell with no stop yet accepts any value.
func (t *Tracker) UpdateStop(id string, stop float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch p.Side {
	case types.Buy:
		if stop < p.StopLoss {
			return fmt.Errorf("%w: buy %s %v -> %v", ErrStopLoosened, id, p.StopLoss, stop)
		}
	case types.Sell:
		if p.StopLoss != 0 && stop > p.StopLoss {
			return fmt.Errorf("%w: sell %s %v -> %v", ErrStopLoosened, id, p.StopLoss, stop)
		}
	}
	p.StopLoss = stop
	return nil
}

// PnL returns the unrealised P&L of id at price and widens its profit
// extremes. ok is false when id is unknown.
func (t *Tracker) PnL(id string, price float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return 0, false
	}
	pnl := p.PnL(price)
	if pnl > p.HighestProfit {
		p.HighestProfit = pnl
	}
	if pnl < p.LowestProfit {
		p.LowestProfit = pnl
	}
	return pnl, true
}

func (t *Tracker) withPosition(id string, fn func(*Position)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(p)
	return nil
}

func (t *Tracker) SetTrailingActive(id string) error {
	return t.withPosition(id, func(p *Position) { p.Stops.TrailingActive = true })
}

func (t *Tracker) ResetTrailing(id string) error {
	return t.withPosition(id, func(p *Position) { p.Stops.TrailingActive = false })
}

// TrailingActive is false for unknown ids.
func (t *Tracker) TrailingActive(id string) bool {
	p, ok := t.Get(id)
	return ok && p.Stops.TrailingActive
}

// TrailingPositions lists ids with an active trailing stop.
func (t *Tracker) TrailingPositions() []string {
	var ids []string
	for _, p := range t.List() {
		if p.Stops.TrailingActive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (t *Tracker) SetBreakevenSet(id string) error {
	return t.withPosition(id, func(p *Position) { p.Stops.BreakevenSet = true })
}

func (t *Tracker) ResetBreakeven(id string) error {
	return t.withPosition(id, func(p *Position) { p.Stops.BreakevenSet = false })
}

func (t *Tracker) BreakevenSet(id string) bool {
	p, ok := t.Get(id)
	return ok && p.Stops.BreakevenSet
}
