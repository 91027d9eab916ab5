// Package exchange connects the bot to Binance USDT-M futures or spot:
// candles, quotes, free balance and order placement over REST, and a
// websocket top-of-book stream.
package exchange

import (
	"context"
	"errors"

	"github.com/evdnx/smartbot/types"
)

var (
	// ErrBalanceNotFound means none of the preferred quote currencies is
	// present in the account.
	ErrBalanceNotFound = errors.New("no balance in preferred currencies")
	// ErrAPI wraps every non-success answer from the exchange.
	ErrAPI = errors.New("exchange api error")
)

// MarketDataSource provides candles and the current quote for a symbol.
type MarketDataSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) (types.Series, error)
	FetchQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// AccountSource returns the free balance of the first currency in the
// preference list that the account holds.
type AccountSource interface {
	FetchFreeBalance(ctx context.Context, currencies []string) (float64, error)
}
