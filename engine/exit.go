package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/lifecycle"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
)

// exitBars is the one-minute history fetched per held instrument.
const exitBars = 60

// Kill-switch kinds.
const (
	KillVolatility = "volatility"
	KillDrawdown   = "daily_drawdown"
)

// ManageExits runs one exit tick: kill-switch checks, reconciliation of the
// ledger against the brokerage, then exit evaluation for every held
// instrument. A tick that starts while the previous one runs is dropped.
func (e *Engine) ManageExits(ctx context.Context) error {
	if !e.exiting.CompareAndSwap(false, true) {
		e.log.Debug("exit tick still running, skipped")
		return nil
	}
	defer e.exiting.Store(false)

	snap, err := e.Snapshot()
	if err != nil {
		return err
	}

	if acct, err := e.broker.GetAccount(ctx); err != nil {
		e.log.Warn("account unavailable for drawdown check", "error", err)
	} else {
		metrics.SetEquity(acct.Equity)
		if e.admit.DrawdownKill(acct.Equity, snap.Preset) {
			e.kill(ctx, KillDrawdown, fmt.Sprintf("equity %.2f breached daily drawdown", acct.Equity), snap)
		}
	}
	if z, ok := e.benchmarkZ(ctx, snap); ok && e.admit.VolatilityKill(z, snap.Preset) {
		e.kill(ctx, KillVolatility, fmt.Sprintf("benchmark return z=%.2f", z.V), snap)
	}
	e.reportKillSwitches()

	positions, err := e.broker.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	held := make(map[string]broker.Position, len(positions))
	for _, pos := range positions {
		if !lifecycle.IsDust(pos, snap.Preset.MinNotional) {
			held[pos.Symbol] = pos
		}
	}
	tracked := e.ledger.Symbols()

	symbols := make(map[string]bool, len(held)+len(tracked))
	for s := range held {
		symbols[s] = true
	}
	for _, s := range tracked {
		symbols[s] = true
	}
	open := make([]string, 0, len(symbols))
	for s := range symbols {
		open = append(open, s)
	}
	e.admit.SyncOpen(open)

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < workers(snap.Engine.Workers, len(open)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				pos, isHeld := held[sym]
				e.manageSymbol(ctx, sym, pos, isHeld, snap)
			}
		}()
	}
	for _, s := range open {
		jobs <- s
	}
	close(jobs)
	wg.Wait()

	metrics.SetOpenPositions(e.ledger.Len())
	return nil
}

// manageSymbol reconciles one instrument and evaluates its exit. Errors are
// logged and evented; they never reach other instruments.
func (e *Engine) manageSymbol(ctx context.Context, sym string, pos broker.Position, held bool, snap config.Snapshot) {
	in := e.instrument(sym)
	_, tracked := e.ledger.Get(sym)

	switch {
	case tracked && !held:
		mark := pos.CurrentPrice
		if q, err := e.md.Quote(ctx, in); err == nil {
			mark = q.Bid
		}
		if err := e.manager.ClearFlat(ctx, sym, mark, snap); err != nil {
			e.exitError(sym, "clear flat position", err)
		}

	case held && !tracked:
		atr := 0.0
		if bars, err := e.md.Bars(ctx, in, market.M1, exitBars); err == nil {
			atr = indicators.ATR(bars, snap.Indicators.ATRPeriod).Or(0)
		} else {
			e.log.Warn("bars unavailable for adoption", "symbol", sym, "error", err)
		}
		if _, err := e.manager.Adopt(ctx, pos, atr, snap); err != nil {
			e.exitError(sym, "adopt position", err)
		}

	case held && tracked:
		exitIn, err := e.exitInputs(ctx, in, pos, snap)
		if err != nil {
			e.log.Warn("exit inputs unavailable", "symbol", sym, "error", err)
			return
		}
		a, err := e.manager.ManageExit(ctx, sym, exitIn, snap)
		if err != nil {
			e.exitError(sym, "manage exit", err)
			return
		}
		if a.Kind != lifecycle.Hold {
			e.log.Info("exit action", "symbol", sym, "kind", a.Kind, "reason", a.Reason)
		}
	}
}

// exitInputs gathers the mark and the one-minute context for an exit
// evaluation. Only a missing mark is fatal; missing indicators simply skip
// the checks that need them.
func (e *Engine) exitInputs(ctx context.Context, in market.Instrument, pos broker.Position, snap config.Snapshot) (lifecycle.Inputs, error) {
	var out lifecycle.Inputs
	if q, err := e.md.Quote(ctx, in); err == nil && q.Bid > 0 {
		out.Mark = q.Bid
	} else {
		out.Mark = pos.CurrentPrice
	}
	if out.Mark <= 0 {
		return out, fmt.Errorf("%s: no mark price", in.Symbol)
	}

	now := e.now()
	if bars, err := e.md.Bars(ctx, in, market.M1, exitBars); err == nil && len(bars) > 0 {
		closes := market.Closes(bars)
		out.ATR1m = indicators.ATR(bars, snap.Indicators.ATRPeriod)
		if len(closes) >= snap.Indicators.EMASlow {
			out.EMAInverted = !indicators.EMAAligned(closes, snap.Indicators.EMAFast, snap.Indicators.EMASlow)
		}
		last := bars[len(bars)-1]
		out.LastClose, out.BarTime = last.Close, last.Time
	}
	if session, err := e.md.SessionBars(ctx, in, now); err == nil {
		out.VWAP = indicators.VWAP(session, market.SessionStart(now))
	}
	return out, nil
}

// benchmarkZ is the z-score of the benchmark's latest one-minute return.
func (e *Engine) benchmarkZ(ctx context.Context, snap config.Snapshot) (indicators.Value, bool) {
	in := e.instrument(market.NormalizeSymbol(snap.Engine.Benchmark))
	bars, err := e.md.Bars(ctx, in, market.M1, snap.Indicators.ZWindow+2)
	if err != nil {
		e.log.Warn("benchmark bars for volatility check", "symbol", in.Symbol, "error", err)
		return indicators.Value{}, false
	}
	z := indicators.ReturnZScore(market.Closes(bars), snap.Indicators.ZWindow)
	return z, z.OK
}

// kill flattens every position after a kill-switch trips.
// The event fires once per trip; positions are flattened on every tick the
// condition holds.
func (e *Engine) kill(ctx context.Context, kind, detail string, snap config.Snapshot) {
	metrics.SetKillSwitch(kind, true)
	e.mu.Lock()
	first := !e.kills[kind]
	e.kills[kind] = true
	e.mu.Unlock()
	if first {
		e.events.Emit(journal.EventKillSwitch, "", kind+" kill-switch: "+detail, map[string]any{"kind": kind})
		e.log.Warn("kill-switch tripped, flattening", "kind", kind, "detail", detail)
	}
	if err := e.manager.Flatten(ctx, lifecycle.ReasonKillSwitch, snap); err != nil {
		e.exitError("", "flatten", err)
	}
}

func (e *Engine) reportKillSwitches() {
	st := e.admit.Status()
	active := map[string]bool{
		KillVolatility: strings.HasPrefix(st.GlobalReason, "volatility"),
		KillDrawdown:   !st.DayKillUntil.IsZero(),
	}
	e.mu.Lock()
	for kind, on := range active {
		e.kills[kind] = on
		metrics.SetKillSwitch(kind, on)
	}
	e.mu.Unlock()
}

func (e *Engine) exitError(sym, op string, err error) {
	e.log.Error(op, "symbol", sym, "error", err)
	e.events.Emit(journal.EventError, sym, op+": "+err.Error(), nil)
}
