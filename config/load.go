package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load builds a Config from defaults, an optional file (yaml, json, toml or
// .env, picked by extension) and the process environment, in increasing
// precedence. Keys are the upper snake case names used in .env files, e.g.
// RISK_PERCENT or EXCHANGE_API_KEY. The result is validated.
func Load(path string) (Config, error) {
	d := Default()
	v := viper.New()

	v.SetDefault("RISK_PERCENT", d.RiskPercent)
	v.SetDefault("MAX_POSITIONS", d.MaxPositions)
	v.SetDefault("LEVERAGE", d.Leverage)
	v.SetDefault("MIN_ORDER_SIZE", d.MinOrderSize)
	v.SetDefault("FAST_EMA", d.FastEMA)
	v.SetDefault("SLOW_EMA", d.SlowEMA)
	v.SetDefault("ATR_PERIOD", d.ATRPeriod)
	v.SetDefault("ATR_MULTIPLIER_SL", d.ATRMultiplierSL)
	v.SetDefault("ATR_MULTIPLIER_TP", d.ATRMultiplierTP)
	v.SetDefault("MIN_ATR", d.MinATR)
	v.SetDefault("MAX_SPREAD", d.MaxSpread)
	v.SetDefault("START_HOUR", d.StartHour)
	v.SetDefault("END_HOUR", d.EndHour)
	v.SetDefault("USE_TRAILING", d.UseTrailing)
	v.SetDefault("TRAIL_START_PERCENT", d.TrailStartPercent)
	v.SetDefault("TRAIL_STEP_PERCENT", d.TrailStepPercent)
	v.SetDefault("BREAKEVEN_TRIGGER_PERCENT", d.BreakevenTriggerPercent)
	v.SetDefault("COMMISSION_PERCENT", d.CommissionPercent)
	v.SetDefault("SYMBOL", d.Symbol)
	v.SetDefault("PRIMARY_TIMEFRAME", d.PrimaryTimeframe)
	v.SetDefault("CONFIRMATION_TIMEFRAME", d.ConfirmationTimeframe)
	v.SetDefault("QUOTE_CURRENCIES", strings.Join(d.QuoteCurrencies, ","))
	v.SetDefault("CANDLE_LIMIT", d.CandleLimit)
	v.SetDefault("CONFIRMATION_LIMIT", d.ConfirmationLimit)
	v.SetDefault("POLL_INTERVAL", d.PollInterval)
	v.SetDefault("DRY_RUN", d.DryRun)
	v.SetDefault("METRICS_ADDR", d.MetricsAddr)

	v.SetDefault("EXCHANGE_MARKET", d.Exchange.Market)
	v.SetDefault("EXCHANGE_API_KEY", "")
	v.SetDefault("EXCHANGE_API_SECRET", "")
	v.SetDefault("USE_TESTNET", d.Exchange.UseTestnet)
	v.SetDefault("EXCHANGE_BASE_URL", "")
	v.SetDefault("EXCHANGE_STREAM_URL", "")
	v.SetDefault("EXCHANGE_RECV_WINDOW", d.Exchange.RecvWindow)
	v.SetDefault("EXCHANGE_TIMEOUT", d.Exchange.Timeout)

	v.SetDefault("LOG_LEVEL", d.Log.Level)
	v.SetDefault("LOG_FILE", d.Log.File)
	v.SetDefault("LOG_MAX_SIZE_MB", d.Log.MaxSizeMB)
	v.SetDefault("LOG_MAX_BACKUPS", d.Log.MaxBackups)
	v.SetDefault("LOG_MAX_AGE_DAYS", d.Log.MaxAgeDays)
	v.SetDefault("LOG_COMPRESS", d.Log.Compress)

	v.SetDefault("JOURNAL_ADDR", "")
	v.SetDefault("JOURNAL_DATABASE", d.Journal.Database)
	v.SetDefault("JOURNAL_USERNAME", "")
	v.SetDefault("JOURNAL_PASSWORD", "")
	v.SetDefault("JOURNAL_TABLE", d.Journal.Table)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		RiskPercent:  v.GetFloat64("RISK_PERCENT"),
		MaxPositions: v.GetInt("MAX_POSITIONS"),
		Leverage:     v.GetFloat64("LEVERAGE"),
		MinOrderSize: v.GetFloat64("MIN_ORDER_SIZE"),

		FastEMA: v.GetInt("FAST_EMA"),
		SlowEMA: v.GetInt("SLOW_EMA"),

		ATRPeriod:       v.GetInt("ATR_PERIOD"),
		ATRMultiplierSL: v.GetFloat64("ATR_MULTIPLIER_SL"),
		ATRMultiplierTP: v.GetFloat64("ATR_MULTIPLIER_TP"),
		MinATR:          v.GetFloat64("MIN_ATR"),

		MaxSpread: v.GetFloat64("MAX_SPREAD"),
		StartHour: v.GetInt("START_HOUR"),
		EndHour:   v.GetInt("END_HOUR"),

		UseTrailing:       v.GetBool("USE_TRAILING"),
		TrailStartPercent: v.GetFloat64("TRAIL_START_PERCENT"),
		TrailStepPercent:  v.GetFloat64("TRAIL_STEP_PERCENT"),

		BreakevenTriggerPercent: v.GetFloat64("BREAKEVEN_TRIGGER_PERCENT"),
		CommissionPercent:       v.GetFloat64("COMMISSION_PERCENT"),

		Symbol:                strings.ToUpper(v.GetString("SYMBOL")),
		PrimaryTimeframe:      v.GetString("PRIMARY_TIMEFRAME"),
		ConfirmationTimeframe: v.GetString("CONFIRMATION_TIMEFRAME"),
		QuoteCurrencies:       splitList(v.GetString("QUOTE_CURRENCIES")),
		CandleLimit:           v.GetInt("CANDLE_LIMIT"),
		ConfirmationLimit:     v.GetInt("CONFIRMATION_LIMIT"),

		PollInterval: v.GetDuration("POLL_INTERVAL"),
		DryRun:       v.GetBool("DRY_RUN"),
		MetricsAddr:  v.GetString("METRICS_ADDR"),

		Exchange: ExchangeConfig{
			Market:     strings.ToLower(v.GetString("EXCHANGE_MARKET")),
			APIKey:     v.GetString("EXCHANGE_API_KEY"),
			APISecret:  v.GetString("EXCHANGE_API_SECRET"),
			UseTestnet: v.GetBool("USE_TESTNET"),
			BaseURL:    v.GetString("EXCHANGE_BASE_URL"),
			StreamURL:  v.GetString("EXCHANGE_STREAM_URL"),
			RecvWindow: v.GetInt("EXCHANGE_RECV_WINDOW"),
			Timeout:    v.GetDuration("EXCHANGE_TIMEOUT"),
		},
		Log: LogConfig{
			Level:      strings.ToLower(v.GetString("LOG_LEVEL")),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
			Compress:   v.GetBool("LOG_COMPRESS"),
		},
		Journal: JournalConfig{
			Addr:     v.GetString("JOURNAL_ADDR"),
			Database: v.GetString("JOURNAL_DATABASE"),
			Username: v.GetString("JOURNAL_USERNAME"),
			Password: v.GetString("JOURNAL_PASSWORD"),
			Table:    v.GetString("JOURNAL_TABLE"),
		},
	}

	// Endpoints follow the market and testnet switch unless set explicitly.
	rest, stream := endpoints(cfg.Exchange.Market, cfg.Exchange.UseTestnet)
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = rest
	}
	if cfg.Exchange.StreamURL == "" {
		cfg.Exchange.StreamURL = stream
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
