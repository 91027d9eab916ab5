package testutils

import (
	"context"
	"sync"

	"github.com/evdnx/smartbot/types"
)

// MockMarket serves canned candles and quotes per timeframe.
type MockMarket struct {
	mu        sync.RWMutex
	candles   map[string]types.Series
	quote     types.Quote
	candleErr error
	quoteErr  error
	panicMsg  string
	calls     map[string]int
}

func NewMockMarket() *MockMarket {
	return &MockMarket{candles: make(map[string]types.Series), calls: make(map[string]int)}
}

func (m *MockMarket) SetCandles(timeframe string, s types.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[timeframe] = append(types.Series(nil), s...)
}

func (m *MockMarket) SetQuote(q types.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quote = q
}

// FailCandles makes FetchCandles return err; nil restores normal behaviour.
func (m *MockMarket) FailCandles(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleErr = err
}

func (m *MockMarket) FailQuote(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteErr = err
}

// PanicOnCandles makes FetchCandles panic with msg; "" disables.
func (m *MockMarket) PanicOnCandles(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

// FetchCandles returns at most limit of the newest candles for timeframe.
func (m *MockMarket) FetchCandles(_ context.Context, _ string, timeframe string, limit int) (types.Series, error) {
	m.mu.Lock()
	m.calls[timeframe]++
	panicMsg, err := m.panicMsg, m.candleErr
	s := m.candles[timeframe]
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	return append(types.Series(nil), s...), nil
}

func (m *MockMarket) FetchQuote(_ context.Context, _ string) (types.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.quoteErr != nil {
		return types.Quote{}, m.quoteErr
	}
	return m.quote, nil
}

// Calls returns how often candles for timeframe were requested.
func (m *MockMarket) Calls(timeframe string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[timeframe]
}

// MockAccount returns a fixed free balance.
type MockAccount struct {
	mu      sync.RWMutex
	balance float64
	err     error
}

func NewMockAccount(balance float64) *MockAccount { return &MockAccount{balance: balance} }

func (a *MockAccount) SetBalance(b float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = b
}

func (a *MockAccount) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *MockAccount) FetchFreeBalance(_ context.Context, _ []string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.err != nil {
		return 0, a.err
	}
	return a.balance, nil
}
