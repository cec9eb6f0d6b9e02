package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/alpaca"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/marketdata"
	"github.com/rustyeddy/autotrader/retry"
)

// app is everything a command needs, built from one config.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	universe *market.Universe
	gateway  *marketdata.Gateway
	broker   broker.Broker
	journal  *journal.SQLite
	events   *journal.EventLog
	engine   *engine.Engine

	// background work the broker needs, started by start
	background []func(ctx context.Context)
	closers    []io.Closer
}

type buildOptions struct {
	paper   bool   // force the in-process simulated broker
	alpaca  string // alpaca environment override: paper or live
	journal string // journal DSN override
}

// policy applies a configured per-attempt timeout and retry count.
func policy(timeout time.Duration, retries uint64) retry.Policy {
	p := retry.DefaultPolicy()
	if timeout > 0 {
		p.Timeout = timeout
	}
	p.MaxRetries = retries
	return p
}

func buildApp(cfg *config.Config, opts buildOptions) (*app, error) {
	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	a.universe, err = cfg.Universe()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("instruments: %w", err)
	}

	a.gateway = a.buildMarketData()

	if err := a.buildBroker(opts); err != nil {
		a.Close()
		return nil, err
	}

	dsn := cfg.Journal.DBPath
	if opts.journal != "" {
		dsn = opts.journal
	}
	a.journal, err = journal.NewSQLite(dsn)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.closers = append(a.closers, a.journal)

	a.events = journal.NewEventLog(cfg.Engine.EventBuffer)
	a.engine, err = engine.New(engine.Deps{
		Config:   cfg,
		Universe: a.universe,
		Market:   a.gateway,
		Broker:   a.broker,
		Journal:  a.journal,
		Events:   a.events,
		Log:      log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildMarketData() *marketdata.Gateway {
	md := a.cfg.MarketData
	p := policy(md.Timeout, md.Retries)
	prices := marketdata.NewCryptoCompare(md.BaseURL, md.APIKey, p)

	var quotes marketdata.QuoteSource
	if a.cfg.HasBrokerCredentials() && md.QuoteURL != "" {
		quotes = marketdata.NewAlpacaQuotes(md.QuoteURL, a.cfg.Broker.KeyID, a.cfg.Broker.SecretKey, p)
	} else {
		a.log.Warn("no quote source configured; using synthetic quotes", "spread_bps", md.SyntheticSpreadBps)
	}
	return marketdata.NewGateway(prices, quotes, md.SyntheticSpreadBps, a.log)
}

func (a *app) buildBroker(opts buildOptions) error {
	bc := a.cfg.Broker
	if opts.paper || bc.Provider == "sim" {
		fee := a.cfg.AllPresets()[a.cfg.Preset].FeeBps
		s := sim.NewEngine(bc.SimCash, fee)
		instruments := a.universe.All()
		every := a.cfg.Engine.ExitInterval
		a.background = append(a.background, func(ctx context.Context) {
			s.Follow(ctx, a.gateway, instruments, every, a.log)
		})
		a.broker = s
		a.log.Info("using simulated broker", "cash", bc.SimCash, "fee_bps", fee)
		return nil
	}

	if !a.cfg.HasBrokerCredentials() {
		return errors.New("alpaca credentials missing: set " + config.EnvKeyID + " and " + config.EnvSecretKey + " or use --paper")
	}
	baseURL, streamURL := bc.BaseURL, bc.StreamURL
	if opts.alpaca != "" {
		u, err := alpaca.BaseURL(opts.alpaca)
		if err != nil {
			return err
		}
		baseURL, streamURL = u, alpaca.StreamURL(u)
	}
	if streamURL == "" {
		streamURL = alpaca.StreamURL(baseURL)
	}

	client := alpaca.NewClient(baseURL, bc.KeyID, bc.SecretKey, policy(bc.Timeout, bc.Retries))
	stream := alpaca.NewStream(streamURL, bc.KeyID, bc.SecretKey, a.log)
	a.background = append(a.background, func(ctx context.Context) {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("trade stream stopped", "error", err)
		}
	})
	a.broker = client.WithStream(stream)
	a.log.Info("using alpaca broker", "base_url", baseURL)
	return nil
}

// start launches the broker's background work.
func (a *app) start(ctx context.Context) {
	for _, fn := range a.background {
		go fn(ctx)
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
