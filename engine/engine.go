// Package engine is the long-running service: it owns the scan and exit
// loops, the shared ledger and admission state, and the read-only views the
// HTTP surface and CLI present.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/autotrader/admission"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/gates"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/lifecycle"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
)

// ErrScanInProgress is returned when a scan is requested while one runs.
var ErrScanInProgress = errors.New("scan already in progress")

var ErrUnknownInstrument = errors.New("unknown instrument")

// MarketData is the subset of the market data gateway the engine reads.
type MarketData interface {
	Bars(ctx context.Context, in market.Instrument, tf market.Timeframe, limit int) ([]market.Bar, error)
	SessionBars(ctx context.Context, in market.Instrument, now time.Time) ([]market.Bar, error)
	Quote(ctx context.Context, in market.Instrument) (market.Quote, error)
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Config   *config.Config
	Universe *market.Universe
	Market   MarketData
	Broker   broker.Broker
	Journal  journal.Journal
	Events   *journal.EventLog
	Log      *slog.Logger
}

type Engine struct {
	cfg      *config.Config
	universe *market.Universe
	md       MarketData
	broker   broker.Broker
	journal  journal.Journal
	events   *journal.EventLog
	ledger   *ledger.Ledger
	admit    *admission.Controller
	manager  *lifecycle.Manager
	log      *slog.Logger
	now      func() time.Time

	scanning atomic.Bool
	exiting  atomic.Bool

	mu        sync.RWMutex
	preset    string
	autoTrade bool
	snapshots map[string]InstrumentSnapshot
	bench     gates.Benchmark
	lastScan  time.Time
	kills     map[string]bool
}

// New wires an Engine. The configured preset must exist.
func New(d Deps) (*Engine, error) {
	if d.Config == nil || d.Universe == nil || d.Market == nil || d.Broker == nil {
		return nil, errors.New("engine: config, universe, market data and broker are required")
	}
	if _, ok := d.Config.AllPresets()[d.Config.Preset]; !ok {
		return nil, fmt.Errorf("engine: unknown preset %q", d.Config.Preset)
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	events := d.Events
	if events == nil {
		events = journal.NewEventLog(d.Config.Engine.EventBuffer)
	}

	e := &Engine{
		cfg:       d.Config,
		universe:  d.Universe,
		md:        d.Market,
		broker:    d.Broker,
		journal:   d.Journal,
		events:    events,
		ledger:    ledger.New(),
		admit:     admission.New(),
		log:       log.With("component", "engine"),
		now:       time.Now,
		preset:    d.Config.Preset,
		autoTrade: d.Config.Engine.AutoTrade,
		snapshots: make(map[string]InstrumentSnapshot),
		kills:     make(map[string]bool),
	}
	e.manager = lifecycle.NewManager(d.Broker, e.ledger, events, d.Journal, e.admit,
		lifecycle.OptionsFrom(d.Config.Engine), log)
	return e, nil
}

// SetClock replaces the time source of the engine and everything it owns.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.admit.SetClock(now)
	e.manager.SetClock(now)
}

// Run drives the scan and exit loops until ctx ends. A scan runs at once.
func (e *Engine) Run(ctx context.Context) error {
	scanEvery := e.cfg.Engine.ScanInterval
	exitEvery := e.cfg.Engine.ExitInterval
	e.log.Info("engine started", "preset", e.Preset(), "auto_trade", e.AutoTrade(),
		"instruments", e.universe.Len(), "scan_interval", scanEvery, "exit_interval", exitEvery)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.loop(ctx, scanEvery, true, func(ctx context.Context) {
			if _, err := e.Scan(ctx); err != nil && !errors.Is(err, ErrScanInProgress) {
				e.log.Error("scan failed", "error", err)
			}
		})
	}()
	go func() {
		defer wg.Done()
		e.loop(ctx, exitEvery, false, func(ctx context.Context) {
			if err := e.ManageExits(ctx); err != nil {
				e.log.Error("exit tick failed", "error", err)
			}
		})
	}()
	wg.Wait()
	e.log.Info("engine stopped")
	return nil
}

// loop calls fn every d. Ticks that arrive while fn runs are dropped by the
// ticker, so a slow fn never queues work.
func (e *Engine) loop(ctx context.Context, d time.Duration, immediate bool, fn func(context.Context)) {
	if immediate {
		fn(ctx)
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

// Snapshot builds the per-cycle configuration view for the active preset.
func (e *Engine) Snapshot() (config.Snapshot, error) {
	return e.cfg.Snapshot(e.Preset(), e.now())
}

func (e *Engine) Preset() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.preset
}

// SetPreset swaps the active preset. It takes effect on the next cycle.
func (e *Engine) SetPreset(name string) error {
	if _, ok := e.cfg.AllPresets()[name]; !ok {
		return fmt.Errorf("unknown preset: %s", name)
	}
	e.mu.Lock()
	prev := e.preset
	e.preset = name
	e.mu.Unlock()
	if prev != name {
		e.events.Emit(journal.EventPreset, "", "preset changed to "+name, map[string]any{"from": prev, "to": name})
		e.log.Info("preset changed", "from", prev, "to", name)
	}
	return nil
}

// Presets lists every preset by name.
func (e *Engine) Presets() map[string]config.Preset {
	return e.cfg.AllPresets()
}

func (e *Engine) AutoTrade() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoTrade
}

// SetAutoTrade enables or disables automatic entries. Exits always run.
func (e *Engine) SetAutoTrade(on bool) {
	e.mu.Lock()
	changed := e.autoTrade != on
	e.autoTrade = on
	e.mu.Unlock()
	if changed {
		e.events.Emit(journal.EventAutoTrade, "", fmt.Sprintf("auto-trade %s", onOff(on)), map[string]any{"enabled": on})
		e.log.Info("auto-trade toggled", "enabled", on)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (e *Engine) Events() *journal.EventLog { return e.events }

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Admission returns the controller's current cooldown and kill-switch view.
func (e *Engine) Admission() admission.Status { return e.admit.Status() }

func (e *Engine) Universe() *market.Universe { return e.universe }

// Flatten closes every position immediately.
func (e *Engine) Flatten(ctx context.Context, reason string) error {
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	return e.manager.Flatten(ctx, reason, snap)
}

// Close exits one instrument at market.
func (e *Engine) Close(ctx context.Context, symbol string) error {
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	return e.manager.Close(ctx, market.NormalizeSymbol(symbol), lifecycle.ReasonManual, snap)
}

// instrument resolves a symbol, falling back to a bare instrument for
// positions held outside the configured universe.
func (e *Engine) instrument(symbol string) market.Instrument {
	if in, ok := e.universe.Lookup(symbol); ok {
		return in
	}
	return market.Instrument{Symbol: symbol, Name: symbol}
}

func (e *Engine) recordEquity(acct broker.Account) {
	metrics.SetEquity(acct.Equity)
	if e.journal == nil {
		return
	}
	err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:        e.now(),
		Equity:      acct.Equity,
		LastEquity:  acct.LastEquity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
	})
	if err != nil {
		e.log.Warn("record equity", "error", err)
	}
}
