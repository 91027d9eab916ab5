package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/evdnx/smartbot/types"
)

// Config holds every tunable of the bot. It is passed by value to each
// component at construction and never mutated afterwards.
type Config struct {
	// Risk parameters
	RiskPercent  float64 `validate:"gt=0,lte=100"` // % of free balance risked per trade
	MaxPositions int     `validate:"gte=1"`
	Leverage     float64 `validate:"gte=1"`
	MinOrderSize float64 `validate:"gt=0"` // in base asset units, e.g. 0.001 BTC

	// EMA strategy parameters
	FastEMA int `validate:"gte=1,ltfield=SlowEMA"`
	SlowEMA int `validate:"gte=2"`

	// ATR parameters
	ATRPeriod       int     `validate:"gte=1"`
	ATRMultiplierSL float64 `validate:"gt=0"`
	ATRMultiplierTP float64 `validate:"gt=0"`
	MinATR          float64 `validate:"gte=0"` // minimum volatility in quote currency

	// Trading filters
	MaxSpread float64 `validate:"gte=0"`
	StartHour int     `validate:"gte=0,lte=23"` // UTC
	EndHour   int     `validate:"gte=0,lte=23"` // UTC, may be < StartHour (overnight)

	// Trailing stop
	UseTrailing       bool
	TrailStartPercent float64 `validate:"gte=0"`
	TrailStepPercent  float64 `validate:"gt=0,lt=100"`

	// Breakeven; 0 disables the move
	BreakevenTriggerPercent float64 `validate:"gte=0"`
	CommissionPercent       float64 `validate:"gte=0,lt=100"` // round trip

	// Market
	Symbol                string   `validate:"required"`
	PrimaryTimeframe      string   `validate:"required"`
	ConfirmationTimeframe string   `validate:"required"`
	QuoteCurrencies       []string `validate:"min=1,dive,required"`
	CandleLimit           int      `validate:"gte=2"`
	ConfirmationLimit     int      `validate:"gte=2"`

	// Bot
	PollInterval time.Duration `validate:"gt=0"`
	DryRun       bool
	MetricsAddr  string

	Exchange ExchangeConfig
	Log      LogConfig
	Journal  JournalConfig
}

type ExchangeConfig struct {
	// Market is "futures" (USDT-M perpetuals) or "spot". Spot cannot open
	// short positions.
	Market     string `validate:"oneof=spot futures"`
	APIKey     string
	APISecret  string
	UseTestnet bool
	BaseURL    string `validate:"required,url"`
	StreamURL  string `validate:"required,url"`
	RecvWindow int    `validate:"gte=0,lte=60000"` // ms
	Timeout    time.Duration
}

type LogConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	File       string
	MaxSizeMB  int `validate:"gte=0"`
	MaxBackups int `validate:"gte=0"`
	MaxAgeDays int `validate:"gte=0"`
	Compress   bool
}

// JournalConfig points at a ClickHouse server. An empty Addr disables the
// journal.
type JournalConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

const (
	binanceREST       = "https://api.binance.com"
	binanceStream     = "wss://stream.binance.com:9443"
	binanceTestREST   = "https://testnet.binance.vision"
	binanceTestStream = "wss://stream.testnet.binance.vision"

	futuresREST       = "https://fapi.binance.com"
	futuresStream     = "wss://fstream.binance.com"
	futuresTestREST   = "https://testnet.binancefuture.com"
	futuresTestStream = "wss://stream.binancefuture.com"
)

// endpoints returns the REST and websocket base URLs of market.
func endpoints(market string, testnet bool) (rest, stream string) {
	switch {
	case market == MarketSpot && testnet:
		return binanceTestREST, binanceTestStream
	case market == MarketSpot:
		return binanceREST, binanceStream
	case testnet:
		return futuresTestREST, futuresTestStream
	default:
		return futuresREST, futuresStream
	}
}

// ShortsAllowed reports whether the configured market can open short
// positions.
func (c Config) ShortsAllowed() bool { return c.Exchange.Market != MarketSpot }

// Default mirrors the reference strategy: EMA 9/21 on 1h, ATR 14 with 1.5/2.5
// multipliers, 1 % risk, paper trading on the futures testnet.
func Default() Config {
	return Config{
		RiskPercent:  1.0,
		MaxPositions: 1,
		Leverage:     1.0,
		MinOrderSize: 0.001,

		FastEMA: 9,
		SlowEMA: 21,

		ATRPeriod:       14,
		ATRMultiplierSL: 1.5,
		ATRMultiplierTP: 2.5,
		MinATR:          50,

		MaxSpread: 60,
		StartHour: 8,
		EndHour:   20,

		UseTrailing:       true,
		TrailStartPercent: 1.0,
		TrailStepPercent:  0.5,

		BreakevenTriggerPercent: 0.5,
		CommissionPercent:       0.1,

		Symbol:                "BTCUSDT",
		PrimaryTimeframe:      "1h",
		ConfirmationTimeframe: "4h",
		QuoteCurrencies:       []string{"USD", "USDT", "BUSD"},
		CandleLimit:           100,
		ConfirmationLimit:     50,

		PollInterval: 10 * time.Second,
		DryRun:       true,
		MetricsAddr:  "127.0.0.1:9108",

		Exchange: ExchangeConfig{
			Market:     MarketFutures,
			UseTestnet: true,
			BaseURL:    futuresTestREST,
			StreamURL:  futuresTestStream,
			RecvWindow: 5000,
			Timeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Journal: JournalConfig{
			Database: "default",
			Table:    "smartbot_trades",
		},
	}
}

var validate = validator.New()

// Validate checks field bounds and cross-field rules and returns every
// problem found, combined with multierr.
func (c Config) Validate() error {
	var err error
	if verr := validate.Struct(c); verr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(verr, &fieldErrs) {
			for _, fe := range fieldErrs {
				err = multierr.Append(err, fmt.Errorf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			err = multierr.Append(err, verr)
		}
	}
	if _, perr := types.ParseTimeframe(c.PrimaryTimeframe); perr != nil {
		err = multierr.Append(err, fmt.Errorf("PrimaryTimeframe: %w", perr))
	}
	if _, perr := types.ParseTimeframe(c.ConfirmationTimeframe); perr != nil {
		err = multierr.Append(err, fmt.Errorf("ConfirmationTimeframe: %w", perr))
	}
	if c.CandleLimit <= c.ATRPeriod {
		err = multierr.Append(err, fmt.Errorf("CandleLimit (%d) must exceed ATRPeriod (%d)", c.CandleLimit, c.ATRPeriod))
	}
	if !c.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		err = multierr.Append(err, errors.New("live trading requires Exchange.APIKey and Exchange.APISecret"))
	}
	for _, q := range c.QuoteCurrencies {
		if strings.TrimSpace(q) != q {
			err = multierr.Append(err, fmt.Errorf("QuoteCurrencies: %q has surrounding spaces", q))
		}
	}
	return err
}
