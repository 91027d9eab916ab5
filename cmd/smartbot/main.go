// Command smartbot trades one symbol on Binance USDT-M futures, or spot with
// long entries only, using the EMA crossover strategy. It runs in paper mode unless DRY_RUN=false.
//
// Usage:
//
//	smartbot -env .env -config smartbot.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/evdnx/smartbot/config"
	"github.com/evdnx/smartbot/exchange"
	"github.com/evdnx/smartbot/journal"
	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/strategy"
)

var (
	configPath = flag.String("config", "", "optional config file (yaml, json, toml or .env)")
	envPath    = flag.String("env", ".env", "dotenv file loaded into the environment before config")
)

type journalSink interface {
	strategy.EventSink
	Close() error
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smartbot:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	if lerr := godotenv.Load(*envPath); lerr != nil && !errors.Is(lerr, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envPath, lerr)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync(log) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := exchange.NewBinance(exchange.BinanceConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		RecvWindow: cfg.Exchange.RecvWindow,
		Timeout:    cfg.Exchange.Timeout,
		Spot:       cfg.Exchange.Market == config.MarketSpot,
	}, log)
	quotes := exchange.NewQuoteStream(cfg.Exchange.StreamURL, cfg.Symbol, log)
	client.UseQuoteStream(quotes)
	go func() {
		if err := quotes.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("quote_stream_stopped", logger.Err(err))
		}
	}()

	var sink journalSink = journal.Nop{}
	if cfg.Journal.Addr != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ch, jerr := journal.Open(openCtx, journal.Options{
			Addr:     cfg.Journal.Addr,
			Database: cfg.Journal.Database,
			Username: cfg.Journal.Username,
			Password: cfg.Journal.Password,
			Table:    cfg.Journal.Table,
		}, log)
		cancel()
		if jerr != nil {
			return jerr
		}
		sink = ch
	}
	defer func() { err = multierr.Append(err, sink.Close()) }()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, ReadHeaderTimeout: 5 * time.Second}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv.Handler = mux
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics_server_failed", logger.Err(err))
			}
		}()
		log.Info("metrics_listening", logger.String("addr", cfg.MetricsAddr))
	}

	bot, err := strategy.New(cfg, strategy.Deps{
		Market:  client,
		Account: client,
		Orders:  client,
		Events:  sink,
		Log:     log,
	})
	if err != nil {
		return err
	}

	runErr := bot.Run(ctx)
	bot.Stop()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cfg.MetricsAddr != "" {
		runErr = multierr.Append(runErr, metricsSrv.Shutdown(shutdownCtx))
	}
	log.Info("shutdown_complete",
		logger.Int("open_positions", len(bot.Positions())),
		logger.Float64("realized_pnl", bot.RealizedPnL()))
	return runErr
}
