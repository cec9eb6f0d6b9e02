// Package admission decides whether a new entry may be submitted at all:
// cooldowns, kill-switches and the concurrency cap. It holds the only
// process-wide cooldown state and serializes access to it.
package admission

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/indicators"
)

// Denial reasons.
const (
	ReasonGlobalCooldown = "global_cooldown"
	ReasonDailyKill      = "daily_kill"
	ReasonSymbolCooldown = "symbol_cooldown"
	ReasonConcurrency    = "concurrency_cap"
	ReasonAlreadyOpen    = "already_open"
)

// DeniedError explains why an entry was refused.
type DeniedError struct {
	Symbol string
	Reason string
	Until  time.Time
	Detail string
}

func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("entry denied for %s: %s", e.Symbol, e.Reason)
	if !e.Until.IsZero() {
		msg += " until " + e.Until.UTC().Format(time.RFC3339)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Controller owns cooldowns, kill-switch state and entry reservations.
type Controller struct {
	mu  sync.Mutex
	now func() time.Time

	globalUntil  time.Time
	globalReason string
	dayKillUntil time.Time
	symbolUntil  map[string]time.Time
	losses       []time.Time

	day            time.Time
	dayStartEquity float64

	open     map[string]bool
	reserved map[string]bool
}

func New() *Controller {
	return &Controller{
		now:         time.Now,
		symbolUntil: make(map[string]time.Time),
		open:        make(map[string]bool),
		reserved:    make(map[string]bool),
	}
}

// SetClock replaces the time source. Tests use it.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Cap is the concurrency cap for the benchmark's volatility regime.
func Cap(benchSigma indicators.Value, p config.Preset) int {
	if benchSigma.OK && p.HighVolSigma > 0 && benchSigma.V >= p.HighVolSigma {
		return p.MaxConcurrentHighVol
	}
	return p.MaxConcurrent
}

// Check reports cooldowns and kill-switches that block symbol, without
// reserving a slot.
func (c *Controller) Check(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked(symbol, c.now())
}

func (c *Controller) checkLocked(symbol string, now time.Time) error {
	if now.Before(c.dayKillUntil) {
		return &DeniedError{Symbol: symbol, Reason: ReasonDailyKill, Until: c.dayKillUntil}
	}
	if now.Before(c.globalUntil) {
		return &DeniedError{Symbol: symbol, Reason: ReasonGlobalCooldown, Until: c.globalUntil, Detail: c.globalReason}
	}
	if until, ok := c.symbolUntil[symbol]; ok {
		if now.Before(until) {
			return &DeniedError{Symbol: symbol, Reason: ReasonSymbolCooldown, Until: until}
		}
		delete(c.symbolUntil, symbol)
	}
	return nil
}

// Reservation holds one concurrency slot until it is committed (the
// position opened) or released (the entry did not fill).
type Reservation struct {
	c      *Controller
	symbol string
	done   bool
}

// Reserve checks every admission rule and, if they pass, takes a slot for
// symbol. Slots in use are open positions plus outstanding reservations, so
// concurrent entries cannot exceed the cap.
func (c *Controller) Reserve(symbol string, benchSigma indicators.Value, p config.Preset) (*Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(symbol, c.now()); err != nil {
		return nil, err
	}
	if c.open[symbol] || c.reserved[symbol] {
		return nil, &DeniedError{Symbol: symbol, Reason: ReasonAlreadyOpen}
	}
	limit := Cap(benchSigma, p)
	if inUse := len(c.open) + len(c.reserved); inUse >= limit {
		return nil, &DeniedError{Symbol: symbol, Reason: ReasonConcurrency, Detail: fmt.Sprintf("%d of %d slots in use", inUse, limit)}
	}
	c.reserved[symbol] = true
	return &Reservation{c: c, symbol: symbol}, nil
}

// Commit converts the slot into an open position.
func (r *Reservation) Commit() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(r.c.reserved, r.symbol)
	r.c.open[r.symbol] = true
}

// Release gives the slot back. It is a no-op after Commit.
func (r *Reservation) Release() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(r.c.reserved, r.symbol)
}

// SyncOpen replaces the open set with the symbols the brokerage holds.
func (c *Controller) SyncOpen(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		c.open[s] = true
	}
}

// RecordExit frees symbol's slot and starts its cooldown. Losing exits get
// the longer cooldown and count towards the loss streak; a full streak
// within the window starts a global cooldown.
func (c *Controller) RecordExit(symbol string, losing bool, p config.Preset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	delete(c.open, symbol)
	cool := p.SymbolCooldown
	if losing {
		cool = p.LossCooldown
	}
	if until := now.Add(cool); until.After(c.symbolUntil[symbol]) {
		c.symbolUntil[symbol] = until
	}
	if !losing {
		return
	}

	c.losses = append(c.losses, now)
	cutoff := now.Add(-p.LossStreakWindow)
	kept := c.losses[:0]
	for _, t := range c.losses {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.losses = kept
	if p.LossStreak > 0 && len(c.losses) >= p.LossStreak {
		c.globalLocked(now.Add(p.LossStreakCooldown), "loss streak")
		c.losses = nil
	}
}

func (c *Controller) globalLocked(until time.Time, reason string) {
	if until.After(c.globalUntil) {
		c.globalUntil = until
		c.globalReason = reason
	}
}

// VolatilityKill trips when the benchmark's one-minute return z-score is at
// or below the preset threshold. It starts a global cooldown and reports
// true so the caller flattens every position.
func (c *Controller) VolatilityKill(benchZ indicators.Value, p config.Preset) bool {
	if !benchZ.OK || benchZ.V > p.VolKillZ {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalLocked(c.now().Add(p.VolKillCooldown), fmt.Sprintf("volatility kill z=%.2f", benchZ.V))
	return true
}

// DrawdownKill tracks the first equity seen each UTC day. When equity falls
// by the preset fraction from it, entries stop until the next UTC midnight
// and it reports true so the caller flattens every position.
func (c *Controller) DrawdownKill(equity float64, p config.Preset) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !day.Equal(c.day) || c.dayStartEquity <= 0 {
		c.day = day
		c.dayStartEquity = equity
	}
	if equity <= 0 || equity > c.dayStartEquity*(1-p.DailyDrawdownPct) {
		return false
	}
	c.dayKillUntil = day.Add(24 * time.Hour)
	return true
}

// Status is a read-only view for the HTTP surface.
type Status struct {
	GlobalUntil     time.Time            `json:"global_until,omitzero"`
	GlobalReason    string               `json:"global_reason,omitempty"`
	DayKillUntil    time.Time            `json:"day_kill_until,omitzero"`
	SymbolCooldowns map[string]time.Time `json:"symbol_cooldowns"`
	RecentLosses    int                  `json:"recent_losses"`
	DayStartEquity  float64              `json:"day_start_equity"`
	Open            []string             `json:"open"`
	Reserved        []string             `json:"reserved"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	s := Status{
		SymbolCooldowns: make(map[string]time.Time),
		RecentLosses:    len(c.losses),
		DayStartEquity:  c.dayStartEquity,
	}
	if now.Before(c.globalUntil) {
		s.GlobalUntil, s.GlobalReason = c.globalUntil, c.globalReason
	}
	if now.Before(c.dayKillUntil) {
		s.DayKillUntil = c.dayKillUntil
	}
	for sym, until := range c.symbolUntil {
		if now.Before(until) {
			s.SymbolCooldowns[sym] = until
		}
	}
	s.Open = keys(c.open)
	s.Reserved = keys(c.reserved)
	return s
}

// EntriesHalted reports whether a global cooldown or day kill is active.
func (c *Controller) EntriesHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return now.Before(c.globalUntil) || now.Before(c.dayKillUntil)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
