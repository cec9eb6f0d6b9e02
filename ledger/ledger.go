// Package ledger holds the engine's view of open positions. Each
// instrument has its own lock; the entry path may only create a TradeState
// where none exists and every later change is made by the exit loop.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrExists is returned by Create when the instrument already has state.
var ErrExists = errors.New("trade state already exists")

// Phase is a position's place in the order lifecycle.
type Phase string

const (
	NoPosition      Phase = "no_position"
	EntrySubmitted  Phase = "entry_submitted"
	Open            Phase = "open"
	PartiallyExited Phase = "partially_exited"
	Closed          Phase = "closed"
)

var transitions = map[Phase][]Phase{
	NoPosition:      {EntrySubmitted, Open},
	EntrySubmitted:  {Open, Closed},
	Open:            {PartiallyExited, Closed},
	PartiallyExited: {Closed},
}

// CanTransition reports whether the lifecycle allows from → to.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// TradeState is everything the exit loop tracks for one held position.
type TradeState struct {
	TradeID      string    `json:"trade_id"`
	Symbol       string    `json:"symbol"`
	Phase        Phase     `json:"phase"`
	EntryOrderID string    `json:"entry_order_id,omitempty"`
	EntryPrice   float64   `json:"entry_price"`
	Qty          float64   `json:"qty"`
	ATR          float64   `json:"atr"`
	EntryTime    time.Time `json:"entry_time"`
	Adopted      bool      `json:"adopted"`

	Peak           float64 `json:"peak"`
	Stop           float64 `json:"stop"`
	BreakevenArmed bool    `json:"breakeven_armed"`
	TakeProfit     float64 `json:"take_profit"`
	InitialTP      float64 `json:"initial_tp"`
	FeeFloor       float64 `json:"fee_floor"`

	TPOrderID     string    `json:"tp_order_id,omitempty"`
	TPPrice       float64   `json:"tp_price"`
	LastTPRefresh time.Time `json:"last_tp_refresh"`

	PartialDone bool      `json:"partial_done"`
	BelowVWAP   int       `json:"below_vwap"`
	LastBarTime time.Time `json:"last_bar_time"`

	RealizedPL float64 `json:"realized_pl"`
	Fees       float64 `json:"fees"`
}

// Transition moves the state to a new phase if the lifecycle allows it.
func (s *TradeState) Transition(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return fmt.Errorf("%s: illegal transition %s -> %s", s.Symbol, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// Held reports the phases in which the position carries quantity.
func (s TradeState) Held() bool {
	return s.Phase == Open || s.Phase == PartiallyExited
}

// Ledger maps instrument symbols to trade state.
type Ledger struct {
	mu     sync.Mutex
	states map[string]TradeState
	locks  map[string]*sync.Mutex
}

func New() *Ledger {
	return &Ledger{
		states: make(map[string]TradeState),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

// Lock blocks until the instrument is free and returns its unlock func.
func (l *Ledger) Lock(symbol string) func() {
	m := l.lockFor(symbol)
	m.Lock()
	return m.Unlock
}

// TryLock takes the instrument's lock if nobody holds it.
func (l *Ledger) TryLock(symbol string) (func(), bool) {
	m := l.lockFor(symbol)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// Get returns a copy of the state for symbol.
func (l *Ledger) Get(symbol string) (TradeState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[symbol]
	return s, ok
}

// Create stores state for an instrument that has none.
func (l *Ledger) Create(s TradeState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.states[s.Symbol]; ok {
		return fmt.Errorf("%s: %w", s.Symbol, ErrExists)
	}
	l.states[s.Symbol] = s
	return nil
}

// Put replaces the state for s.Symbol.
func (l *Ledger) Put(s TradeState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[s.Symbol] = s
}

// Delete removes and returns the state for symbol.
func (l *Ledger) Delete(symbol string) (TradeState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[symbol]
	delete(l.states, symbol)
	return s, ok
}

// Symbols returns the tracked symbols, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.states))
	for s := range l.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// All returns copies of every state, sorted by symbol.
func (l *Ledger) All() []TradeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeState, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}
