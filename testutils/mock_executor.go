package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/evdnx/smartbot/types"
)

// ErrStopLocked is returned by SubmitMarketOrder when LockWhileStopped is set
// and a stop order is resting, like a spot venue that has reserved the base
// asset for the stop.
var ErrStopLocked = errors.New("balance reserved by a resting stop")

// MockExecutor implements executor.OrderExecutor, executor.StopCanceller and
// executor.PositionRegistry in-memory.
type MockExecutor struct {
	mu         sync.RWMutex
	seq        int
	orders     []types.Order // captured for assertions
	stops      map[string]float64
	stopCalls  int
	cancelled  []string
	registered map[string]types.Order

	// knobs
	submitErr  error
	stopOK     bool
	stopErr    error
	stopLocked bool
}

// NewMockExecutor creates an executor whose stop updates succeed.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		stops:      make(map[string]float64),
		registered: make(map[string]types.Order),
		stopOK:     true,
	}
}

// LockWhileStopped makes SubmitMarketOrder fail with ErrStopLocked while any
// stop is resting.
func (m *MockExecutor) LockWhileStopped(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked = on
}

// FailSubmit makes every subsequent SubmitMarketOrder return err.
func (m *MockExecutor) FailSubmit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetStopResult controls what UpdateStop returns.
func (m *MockExecutor) SetStopResult(ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopOK, m.stopErr = ok, err
}

func (m *MockExecutor) SubmitMarketOrder(_ context.Context, symbol string, side types.Side, size float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	if m.stopLocked && len(m.stops) > 0 {
		return "", ErrStopLocked
	}
	m.seq++
	id := fmt.Sprintf("order-%d", m.seq)
	m.orders = append(m.orders, types.Order{Symbol: symbol, Side: side, Qty: size, ID: id})
	return id, nil
}

func (m *MockExecutor) UpdateStop(_ context.Context, positionID string, newStop float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	if m.stopErr != nil || !m.stopOK {
		return m.stopOK, m.stopErr
	}
	m.stops[positionID] = newStop
	return true, nil
}

func (m *MockExecutor) CancelStop(_ context.Context, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, positionID)
	m.cancelled = append(m.cancelled, positionID)
	return nil
}

func (m *MockExecutor) RegisterPosition(positionID, symbol string, side types.Side, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[positionID] = types.Order{ID: positionID, Symbol: symbol, Side: side, Qty: qty}
}

func (m *MockExecutor) ForgetPosition(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registered, positionID)
}

// Registered reports whether positionID is currently registered.
func (m *MockExecutor) Registered(positionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registered[positionID]
	return ok
}

// Orders returns a copy of all submitted orders (useful for assertions).
func (m *MockExecutor) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// Stop returns the last accepted stop for a position.
func (m *MockExecutor) Stop(positionID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stops[positionID]
	return s, ok
}

// StopCalls counts UpdateStop invocations, successful or not.
func (m *MockExecutor) StopCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopCalls
}

// Cancelled lists position ids whose stops were cancelled.
func (m *MockExecutor) Cancelled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cancelled...)
}
