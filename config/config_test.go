package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.RiskPercent = -1 // invalid
	cfg.FastEMA = 30     // not below SlowEMA
	cfg.PrimaryTimeframe = "7m"
	cfg.StartHour = 24

	err := cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(multierr.Errors(err)), 4)
	assert.Contains(t, err.Error(), "RiskPercent")
	assert.Contains(t, err.Error(), "FastEMA")
	assert.Contains(t, err.Error(), "PrimaryTimeframe")
	assert.Contains(t, err.Error(), "StartHour")
}

func TestValidateLiveNeedsCredentials(t *testing.T) {
	cfg := Default()
	cfg.DryRun = false
	require.Error(t, cfg.Validate())

	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	require.NoError(t, cfg.Validate())
}

func TestValidateCandleLimitAboveATRPeriod(t *testing.T) {
	cfg := Default()
	cfg.CandleLimit = cfg.ATRPeriod
	require.Error(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().FastEMA, cfg.FastEMA)
	assert.Equal(t, []string{"USD", "USDT", "BUSD"}, cfg.QuoteCurrencies)
	assert.Equal(t, MarketFutures, cfg.Exchange.Market)
	assert.Equal(t, futuresTestREST, cfg.Exchange.BaseURL)
	assert.Equal(t, futuresTestStream, cfg.Exchange.StreamURL)
	assert.True(t, cfg.ShortsAllowed())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RISK_PERCENT", "2.5")
	t.Setenv("SYMBOL", "ethusdt")
	t.Setenv("QUOTE_CURRENCIES", "usdt, busd")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("USE_TESTNET", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RiskPercent)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, []string{"USDT", "BUSD"}, cfg.QuoteCurrencies)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, futuresREST, cfg.Exchange.BaseURL)
	assert.Equal(t, futuresStream, cfg.Exchange.StreamURL)
}

func TestLoadSpotMarket(t *testing.T) {
	t.Setenv("EXCHANGE_MARKET", "SPOT")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, MarketSpot, cfg.Exchange.Market)
	assert.Equal(t, binanceTestREST, cfg.Exchange.BaseURL)
	assert.Equal(t, binanceTestStream, cfg.Exchange.StreamURL)
	assert.False(t, cfg.ShortsAllowed())

	t.Setenv("USE_TESTNET", "false")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, binanceREST, cfg.Exchange.BaseURL)
	assert.Equal(t, binanceStream, cfg.Exchange.StreamURL)
}

func TestValidateRejectsUnknownMarket(t *testing.T) {
	cfg := Default()
	cfg.Exchange.Market = "margin"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Market")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.env")
	body := "FAST_EMA=5\nSLOW_EMA=13\nMAX_SPREAD=25\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.FastEMA)
	assert.Equal(t, 13, cfg.SlowEMA)
	assert.Equal(t, 25.0, cfg.MaxSpread)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FAST_EMA", "50")
	_, err := Load("")
	require.Error(t, err)
}
