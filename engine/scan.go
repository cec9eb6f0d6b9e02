package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/admission"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/gates"
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/lifecycle"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/risk"
)

// ScanTimeframe is the bar size the scan evaluates.
const ScanTimeframe = market.M1

// Skip reasons that do not come from the admission controller.
const (
	SkipAccountBlocked    = "account_blocked"
	SkipInsufficientFunds = "insufficient_funds"
	SkipSizing            = "sizing"
	SkipNoData            = "no_data"
	SkipDisabled          = "disabled"
	SkipDuplicate         = "duplicate"
)

// SkipError reports an entry that was never submitted.
type SkipError struct {
	Symbol string
	Reason string
	Detail string
}

func (e *SkipError) Error() string {
	msg := fmt.Sprintf("entry skipped for %s: %s", e.Symbol, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// InstrumentSnapshot is the latest evaluation of one instrument.
type InstrumentSnapshot struct {
	Symbol      string              `json:"symbol"`
	Name        string              `json:"name"`
	Price       float64             `json:"price"`
	Quote       market.Quote        `json:"quote"`
	Indicators  indicators.Snapshot `json:"indicators"`
	Decision    gates.Decision      `json:"decision"`
	EntryReady  bool                `json:"entry_ready"`
	Watchlist   bool                `json:"watchlist"`
	MissingData bool                `json:"missing_data"`
	Disabled    bool                `json:"disabled,omitempty"`
	Position    *ledger.TradeState  `json:"position,omitempty"`
	Error       string              `json:"error,omitempty"`
	Updated     time.Time           `json:"updated"`
}

// ScanResult summarizes one scan cycle.
type ScanResult struct {
	Started   time.Time       `json:"started"`
	Duration  time.Duration   `json:"duration"`
	Preset    string          `json:"preset"`
	Benchmark gates.Benchmark `json:"benchmark"`
	Evaluated int             `json:"evaluated"`
	Ready     []string        `json:"ready"`
	Watchlist []string        `json:"watchlist"`
	Missing   []string        `json:"missing"`
	Entered   []string        `json:"entered"`
}

// Scan evaluates every instrument and, when auto-trade is on, enters the
// admitted ones best score first. Overlapping calls return
// ErrScanInProgress.
func (e *Engine) Scan(ctx context.Context) (ScanResult, error) {
	if !e.scanning.CompareAndSwap(false, true) {
		metrics.ScanSkipped()
		e.events.Emit(journal.EventScanSkipped, "", "scan already in progress", nil)
		return ScanResult{}, ErrScanInProgress
	}
	defer e.scanning.Store(false)

	started := time.Now()
	snap, err := e.Snapshot()
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Started: e.now(), Preset: snap.PresetName}

	bench := e.benchmark(ctx, snap)
	res.Benchmark = bench
	results := e.evaluateAll(ctx, snap, bench)

	e.mu.Lock()
	for _, s := range results {
		e.snapshots[s.Symbol] = s
	}
	e.bench = bench
	e.lastScan = res.Started
	e.mu.Unlock()

	var ready []InstrumentSnapshot
	for _, s := range results {
		res.Evaluated++
		switch {
		case s.MissingData:
			res.Missing = append(res.Missing, s.Symbol)
		case s.EntryReady:
			res.Ready = append(res.Ready, s.Symbol)
			ready = append(ready, s)
			e.events.Emit(journal.EventEntryReady, s.Symbol, "entry gates passed", map[string]any{
				"score": s.Decision.Score, "net_edge_bps": s.Decision.NetEdgeBps,
			})
		case s.Watchlist:
			res.Watchlist = append(res.Watchlist, s.Symbol)
		}
	}

	if e.AutoTrade() {
		res.Entered = e.enterReady(ctx, ready, bench, snap)
	}

	res.Duration = time.Since(started)
	metrics.ScanRun(res.Duration.Seconds())
	e.events.Emit(journal.EventScan, "", fmt.Sprintf("scanned %d instruments", res.Evaluated), map[string]any{
		"ready": len(res.Ready), "watchlist": len(res.Watchlist), "missing": len(res.Missing),
		"entered": len(res.Entered), "preset": res.Preset, "duration_ms": res.Duration.Milliseconds(),
	})
	e.log.Info("scan complete", "evaluated", res.Evaluated, "ready", len(res.Ready),
		"entered", len(res.Entered), "missing", len(res.Missing), "duration", res.Duration)
	return res, nil
}

// benchmark computes the regime context. A benchmark without data reads as
// a flat, unaligned market, which fails the regime gate.
func (e *Engine) benchmark(ctx context.Context, snap config.Snapshot) gates.Benchmark {
	in := e.instrument(market.NormalizeSymbol(snap.Engine.Benchmark))
	b := gates.Benchmark{Symbol: in.Symbol, Trend: indicators.Flat}
	bars, err := e.md.Bars(ctx, in, ScanTimeframe, e.cfg.MarketData.BarLimit)
	if err != nil {
		e.log.Warn("benchmark bars", "symbol", in.Symbol, "error", err)
		return b
	}
	ind := indicators.Compute(bars, snap.Indicators)
	b.Trend = ind.Trend.Direction
	b.EMAAligned = ind.EMAAligned
	b.Sigma = ind.Sigma
	b.Return = indicators.Return(market.Closes(bars), snap.Preset.RelStrengthBars)
	return b
}

// evaluateAll fans the universe out over a bounded worker pool. A failure
// only marks its own instrument.
func (e *Engine) evaluateAll(ctx context.Context, snap config.Snapshot, bench gates.Benchmark) []InstrumentSnapshot {
	instruments := e.universe.All()
	out := make([]InstrumentSnapshot, len(instruments))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers(snap.Engine.Workers, len(instruments)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.evaluate(ctx, instruments[i], snap, bench)
			}
		}()
	}
	for i := range instruments {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func workers(n, jobs int) int {
	if n <= 0 {
		n = 1
	}
	if n > jobs {
		n = jobs
	}
	return n
}

func (e *Engine) evaluate(ctx context.Context, in market.Instrument, snap config.Snapshot, bench gates.Benchmark) InstrumentSnapshot {
	now := e.now()
	s := InstrumentSnapshot{Symbol: in.Symbol, Name: in.Name, Updated: now}
	if st, ok := e.ledger.Get(in.Symbol); ok {
		s.Position = &st
	}
	if in.Disabled() {
		s.Disabled = true
		return s
	}

	bars, err := e.md.Bars(ctx, in, ScanTimeframe, e.cfg.MarketData.BarLimit)
	if err != nil {
		e.log.Warn("bars unavailable", "symbol", in.Symbol, "error", err)
		s.MissingData, s.Error = true, err.Error()
		return s
	}
	q, err := e.md.Quote(ctx, in)
	if err != nil {
		e.log.Warn("quote unavailable", "symbol", in.Symbol, "error", err)
		s.MissingData, s.Error = true, err.Error()
		return s
	}
	s.Quote = q
	s.Price = q.Mid()

	ind := indicators.Compute(bars, snap.Indicators)
	if session, err := e.md.SessionBars(ctx, in, now); err == nil {
		ind.VWAP = indicators.VWAP(session, market.SessionStart(now))
	} else {
		e.log.Debug("session bars unavailable", "symbol", in.Symbol, "error", err)
	}
	s.Indicators = ind
	if ind.Closes < snap.Engine.MinCloses || s.Price <= 0 {
		s.MissingData = true
		s.Decision.Reason = "insufficient history"
		return s
	}

	s.Decision = gates.Evaluate(gates.Input{
		Symbol:    in.Symbol,
		Snap:      ind,
		Quote:     q,
		RelReturn: indicators.Return(market.Closes(bars), snap.Preset.RelStrengthBars),
		Benchmark: bench,
	}, snap.Preset)
	s.EntryReady = s.Decision.Admit
	s.Watchlist = s.Decision.Watchlist
	return s
}

// enterReady submits entries best score first. Buying power is read once
// per cycle and drawn down locally as entries fill.
func (e *Engine) enterReady(ctx context.Context, ready []InstrumentSnapshot, bench gates.Benchmark, snap config.Snapshot) []string {
	if len(ready) == 0 {
		return nil
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Decision.Score > ready[j].Decision.Score
	})

	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.Error("account unavailable, skipping entries", "error", err)
		return nil
	}
	e.recordEquity(acct)
	if why, blocked := acct.Blocked(); blocked {
		for _, s := range ready {
			e.skip(&SkipError{Symbol: s.Symbol, Reason: SkipAccountBlocked, Detail: why})
		}
		return nil
	}

	spendable := acct.Spendable(snap.Preset.UseMargin)
	var entered []string
	for i, s := range ready {
		if spendable < snap.Preset.MinNotional {
			for _, rest := range ready[i:] {
				e.skip(&SkipError{Symbol: rest.Symbol, Reason: SkipInsufficientFunds,
					Detail: fmt.Sprintf("buying power %.2f", spendable)})
			}
			break
		}
		st, notional, err := e.enter(ctx, e.instrument(s.Symbol), s, bench, snap, acct.Equity, spendable)
		if err != nil {
			continue
		}
		spendable -= notional
		entered = append(entered, st.Symbol)
	}
	return entered
}

// enter reserves a slot, sizes and submits one entry. Every failure has
// already been logged, evented and counted when it returns.
func (e *Engine) enter(ctx context.Context, in market.Instrument, s InstrumentSnapshot, bench gates.Benchmark, snap config.Snapshot, equity, buyingPower float64) (ledger.TradeState, float64, error) {
	p := snap.Preset
	res, err := e.admit.Reserve(in.Symbol, bench.Sigma, p)
	if err != nil {
		e.skip(err)
		return ledger.TradeState{}, 0, err
	}

	if !s.Indicators.ATR.OK || !s.Quote.Valid() {
		res.Release()
		err := &SkipError{Symbol: in.Symbol, Reason: SkipNoData, Detail: "atr or quote unavailable"}
		e.skip(err)
		return ledger.TradeState{}, 0, err
	}
	size := risk.Calculate(risk.Inputs{
		Equity:        equity,
		BuyingPower:   buyingPower,
		Price:         s.Quote.Ask,
		ATR:           s.Indicators.ATR.V,
		RiskFraction:  p.RiskFraction,
		StopATRMult:   p.StopATRMult,
		MaxEquityPct:  p.MaxEquityPct,
		MaxNotional:   p.MaxNotional,
		InstrumentCap: in.MaxNotional,
		MinNotional:   p.MinNotional,
		Target:        lifecycle.InitialTP(s.Quote.Ask, s.Indicators.ATR.V, p),
	})
	if size.Skip {
		res.Release()
		err := &SkipError{Symbol: in.Symbol, Reason: SkipSizing, Detail: size.Reason}
		e.skip(err)
		return ledger.TradeState{}, 0, err
	}

	st, err := e.manager.Enter(ctx, lifecycle.EntryRequest{
		Instrument: in,
		Quote:      s.Quote,
		ATR:        s.Indicators.ATR.V,
		Impulse:    s.Indicators.Return.V,
		Notional:   size.Notional,
	}, snap)
	if err != nil {
		res.Release()
		if errors.Is(err, lifecycle.ErrDuplicate) {
			e.skip(&SkipError{Symbol: in.Symbol, Reason: SkipDuplicate, Detail: err.Error()})
		} else {
			e.log.Warn("entry failed", "symbol", in.Symbol, "error", err)
		}
		return ledger.TradeState{}, 0, err
	}
	res.Commit()
	metrics.SetOpenPositions(e.ledger.Len())
	e.log.Info("entered", "symbol", in.Symbol, "notional", size.Notional, "capped_by", size.CappedBy,
		"planned_risk", size.PlannedRisk, "risk_pct", size.RiskPct, "rr", size.RR)
	return st, size.Notional, nil
}

func (e *Engine) skip(err error) {
	var (
		sym, reason string
		denied      *admission.DeniedError
		skipped     *SkipError
	)
	switch {
	case errors.As(err, &denied):
		sym, reason = denied.Symbol, denied.Reason
	case errors.As(err, &skipped):
		sym, reason = skipped.Symbol, skipped.Reason
	default:
		reason = "error"
	}
	metrics.EntrySkipped(reason)
	e.events.Emit(journal.EventEntrySkipped, sym, err.Error(), map[string]any{"reason": reason})
	e.log.Info("entry skipped", "symbol", sym, "reason", reason, "error", err)
}

// ManualEntry enters symbol now, bypassing the gates and the auto-trade
// toggle but not admission, sizing or duplicate prevention.
func (e *Engine) ManualEntry(ctx context.Context, symbol string) (ledger.TradeState, error) {
	in, ok := e.universe.Lookup(symbol)
	if !ok {
		return ledger.TradeState{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	if in.Disabled() {
		err := &SkipError{Symbol: in.Symbol, Reason: SkipDisabled}
		e.skip(err)
		return ledger.TradeState{}, err
	}
	snap, err := e.Snapshot()
	if err != nil {
		return ledger.TradeState{}, err
	}

	bench := e.benchmark(ctx, snap)
	s := e.evaluate(ctx, in, snap, bench)
	if s.Error != "" {
		err := &SkipError{Symbol: in.Symbol, Reason: SkipNoData, Detail: s.Error}
		e.skip(err)
		return ledger.TradeState{}, err
	}

	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return ledger.TradeState{}, fmt.Errorf("get account: %w", err)
	}
	if why, blocked := acct.Blocked(); blocked {
		err := &SkipError{Symbol: in.Symbol, Reason: SkipAccountBlocked, Detail: why}
		e.skip(err)
		return ledger.TradeState{}, err
	}
	e.log.Info("manual entry", "symbol", in.Symbol)
	st, _, err := e.enter(ctx, in, s, bench, snap, acct.Equity, acct.Spendable(snap.Preset.UseMargin))
	return st, err
}

// Snapshots returns the latest evaluations: entry-ready first, then the
// watchlist, then the rest, each group by symbol.
func (e *Engine) Snapshots() []InstrumentSnapshot {
	e.mu.RLock()
	out := make([]InstrumentSnapshot, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		out = append(out, s)
	}
	e.mu.RUnlock()

	for i := range out {
		if st, ok := e.ledger.Get(out[i].Symbol); ok {
			out[i].Position = &st
		} else {
			out[i].Position = nil
		}
	}
	rank := func(s InstrumentSnapshot) int {
		switch {
		case s.EntryReady:
			return 0
		case s.Watchlist:
			return 1
		}
		return 2
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Benchmark returns the regime context from the last scan and its time.
func (e *Engine) Benchmark() (gates.Benchmark, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bench, e.lastScan
}
