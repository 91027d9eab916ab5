package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/types"
)

// OrderExecutor places market orders and maintains the protective stop of a
// position on the venue.
type OrderExecutor interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side types.Side, size float64) (string, error)
	// UpdateStop reports false when the venue rejected the new stop.
	UpdateStop(ctx context.Context, positionID string, newStop float64) (bool, error)
}

// StopCanceller is implemented by executors that keep a resting stop order
// per position which must be removed when the position is closed.
type StopCanceller interface {
	CancelStop(ctx context.Context, positionID string) error
}

// PositionRegistry is implemented by executors that must be told which
// orders opened a position before they can protect it with a stop.
type PositionRegistry interface {
	RegisterPosition(positionID, symbol string, side types.Side, qty float64)
	ForgetPosition(positionID string)
}

// PaperIDPrefix marks identifiers fabricated in dry-run mode.
const PaperIDPrefix = "paper_"

// Paper is the dry-run executor: perfect fills, no venue calls, synthetic ids.
type Paper struct {
	mu     sync.RWMutex
	log    logger.Logger
	orders []types.Order
	stops  map[string]float64
}

func NewPaper(log logger.Logger) *Paper {
	if log == nil {
		log = logger.Nop()
	}
	return &Paper{log: log, stops: make(map[string]float64)}
}

func (p *Paper) SubmitMarketOrder(_ context.Context, symbol string, side types.Side, size float64) (string, error) {
	if err := side.Validate(); err != nil {
		return "", err
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: size %v", types.ErrInvalidArgument, size)
	}
	id := PaperIDPrefix + uuid.NewString()

	p.mu.Lock()
	p.orders = append(p.orders, types.Order{ID: id, Symbol: symbol, Side: side, Qty: size, Comment: "paper"})
	p.mu.Unlock()

	p.log.Info("paper_order_filled",
		logger.String("id", id),
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.Float64("qty", size),
	)
	return id, nil
}

func (p *Paper) UpdateStop(_ context.Context, positionID string, newStop float64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops[positionID] = newStop
	return true, nil
}

func (p *Paper) CancelStop(_ context.Context, positionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stops, positionID)
	return nil
}

// Orders returns a copy of all fills.
func (p *Paper) Orders() []types.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Stop returns the resting stop recorded for a position.
func (p *Paper) Stop(positionID string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stops[positionID]
	return s, ok
}
