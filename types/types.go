package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidArgument is returned (wrapped) whenever a side, direction or
// timeframe value is outside its domain. Callers match it with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidArgument, s)
}

// Validate reports whether s is Buy or Sell.
func (s Side) Validate() error {
	if s != Buy && s != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidArgument, string(s))
	}
	return nil
}

// Opposite returns the closing side. Invalid sides map to "".
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return ""
}

type Order struct {
	Symbol string
	Side   Side
	Qty    float64
	Price  float64 // reference price; orders are always market
	// meta
	ID      string
	Comment string
}

// Quote is the top of book for a symbol.
type Quote struct {
	Bid float64
	Ask float64
}

// Spread returns |ask-bid|.
func (q Quote) Spread() float64 {
	if q.Ask > q.Bid {
		return q.Ask - q.Bid
	}
	return q.Bid - q.Ask
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Signal is the entry signal derived from the last two indicator points.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	}
	return "none"
}

// Side maps a directional signal to an order side.
func (s Signal) Side() (Side, bool) {
	switch s {
	case SignalBuy:
		return Buy, true
	case SignalSell:
		return Sell, true
	}
	return "", false
}

// Trend is the fast/slow EMA alignment at the last point.
type Trend int

const (
	TrendNeutral Trend = iota
	TrendBullish
	TrendBearish
)

func (t Trend) String() string {
	switch t {
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	}
	return "neutral"
}

// TradeSetup is emitted after a new position is registered.
type TradeSetup struct {
	PositionID string
	Symbol     string
	Side       Side
	Entry      float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	RiskReward float64
	ATR        float64
	RSI        float64 // 0 when the momentum suite is still warming up
	Paper      bool
	At         time.Time
}

// ClosedTrade is emitted when a position is closed by the strategy.
type ClosedTrade struct {
	PositionID    string
	Symbol        string
	Side          Side
	Entry         float64
	Exit          float64
	Size          float64
	RealizedPnL   float64
	HighestProfit float64
	LowestProfit  float64
	Reason        string
	Paper         bool
	OpenedAt      time.Time
	ClosedAt      time.Time
}
