// Package sim is an in-process paper brokerage. It keeps a cash account,
// long positions and resting limit orders, and fills against the quotes fed
// to UpdatePrice. Paper runs and engine tests trade through it.
package sim

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/id"
	"github.com/rustyeddy/autotrader/market"
)

const qtyEpsilon = 1e-9

type position struct {
	qty      float64
	avgEntry float64
}

type Engine struct {
	mu         sync.Mutex
	cash       float64
	lastEquity float64
	feeBps     float64
	quotes     map[string]market.Quote
	orders     map[string]*broker.Order
	clientIDs  map[string]string
	positions  map[string]*position
	fills      []broker.Fill
	blocked    bool
	injected   []error
	tracker    *broker.Tracker
	now        func() time.Time
}

// NewEngine opens an account holding cash USD. feeBps is charged on every
// fill's notional.
func NewEngine(cash, feeBps float64) *Engine {
	return &Engine{
		cash:       cash,
		lastEquity: cash,
		feeBps:     feeBps,
		quotes:     make(map[string]market.Quote),
		orders:     make(map[string]*broker.Order),
		clientIDs:  make(map[string]string),
		positions:  make(map[string]*position),
		tracker:    broker.NewTracker(1024),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetTradingBlocked flips the account's trading_blocked flag.
func (e *Engine) SetTradingBlocked(b bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocked = b
}

// InjectError makes the next SubmitOrder call fail with err.
func (e *Engine) InjectError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.injected = append(e.injected, err)
}

// RollDay records current equity as the previous close.
func (e *Engine) RollDay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastEquity = e.equityLocked()
}

func (e *Engine) equityLocked() float64 {
	eq := e.cash
	for sym, p := range e.positions {
		eq += p.qty * e.quotes[sym].Bid
	}
	return eq
}

// reservedCashLocked is the cost of resting buy orders.
func (e *Engine) reservedCashLocked() float64 {
	r := 0.0
	for _, o := range e.orders {
		if o.Side == broker.Buy && !o.Status.Terminal() {
			r += (o.Qty - o.FilledQty) * o.LimitPrice * (1 + e.feeBps/1e4)
		}
	}
	return r
}

// availableLocked is the held quantity not committed to open sell orders.
func (e *Engine) availableLocked(symbol string) float64 {
	p, ok := e.positions[symbol]
	if !ok {
		return 0
	}
	avail := p.qty
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Side == broker.Sell && !o.Status.Terminal() {
			avail -= o.Qty - o.FilledQty
		}
	}
	return avail
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bp := e.cash - e.reservedCashLocked()
	return broker.Account{
		ID:                       "SIM-001",
		Currency:                 "USD",
		Equity:                   e.equityLocked(),
		LastEquity:               e.lastEquity,
		Cash:                     e.cash,
		BuyingPower:              bp,
		NonMarginableBuyingPower: bp,
		TradingBlocked:           e.blocked,
	}, nil
}

func reject(status int, format string, args ...any) error {
	return &broker.APIError{Op: "submit order", Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	e.mu.Lock()
	if len(e.injected) > 0 {
		err := e.injected[0]
		e.injected = e.injected[1:]
		e.mu.Unlock()
		return broker.Order{}, err
	}
	o, err := e.submitLocked(req)
	var out broker.Order
	if o != nil {
		out = *o
	}
	e.mu.Unlock()

	if err != nil {
		return broker.Order{}, err
	}
	e.tracker.Publish(out)
	return out, nil
}

func (e *Engine) submitLocked(req broker.OrderRequest) (*broker.Order, error) {
	if e.blocked {
		return nil, reject(http.StatusForbidden, "trading is blocked for this account")
	}
	if req.ClientOrderID != "" {
		if _, dup := e.clientIDs[req.ClientOrderID]; dup {
			return nil, reject(http.StatusUnprocessableEntity, "client_order_id must be unique")
		}
	}
	q, ok := e.quotes[req.Symbol]
	if !ok {
		return nil, reject(http.StatusUnprocessableEntity, "no market for %s", req.Symbol)
	}
	qty := req.Qty
	if qty <= 0 && req.Notional > 0 && q.Ask > 0 {
		qty = broker.FloorQty(req.Notional / q.Ask)
	}
	if qty <= 0 {
		return nil, reject(http.StatusUnprocessableEntity, "qty must be > 0")
	}
	if req.Type == broker.Limit && req.LimitPrice <= 0 {
		return nil, reject(http.StatusUnprocessableEntity, "limit_price is required")
	}

	now := e.now()
	switch req.Side {
	case broker.Buy:
		px := q.Ask
		if req.Type == broker.Limit {
			px = req.LimitPrice
		}
		cost := qty * px * (1 + e.feeBps/1e4)
		if avail := e.cash - e.reservedCashLocked(); cost > avail+qtyEpsilon {
			return nil, reject(http.StatusForbidden, "insufficient balance for USD (requested: %.2f, available: %.2f)", cost, avail)
		}
	case broker.Sell:
		if avail := e.availableLocked(req.Symbol); qty > avail+qtyEpsilon {
			return nil, reject(http.StatusForbidden, "insufficient balance for %s (requested: %v, available: %v)", req.Symbol, qty, avail)
		}
	default:
		return nil, reject(http.StatusUnprocessableEntity, "invalid side %q", req.Side)
	}

	o := &broker.Order{
		ID:            id.New(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Qty:           qty,
		Notional:      req.Notional,
		LimitPrice:    req.LimitPrice,
		Status:        broker.StatusNew,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	e.orders[o.ID] = o
	if req.ClientOrderID != "" {
		e.clientIDs[req.ClientOrderID] = o.ID
	}

	if px, ok := marketable(o, q); ok {
		e.fillLocked(o, px, now)
	} else if o.Type == broker.Market || o.TimeInForce == broker.IOC {
		o.Status = broker.StatusCanceled
	}
	return o, nil
}

// marketable returns the execution price if o can fill against q now.
func marketable(o *broker.Order, q market.Quote) (float64, bool) {
	switch {
	case o.Side == broker.Buy && o.Type == broker.Market:
		return q.Ask, q.Ask > 0
	case o.Side == broker.Sell && o.Type == broker.Market:
		return q.Bid, q.Bid > 0
	case o.Side == broker.Buy && q.Ask > 0 && q.Ask <= o.LimitPrice:
		return q.Ask, true
	case o.Side == broker.Sell && q.Bid > 0 && q.Bid >= o.LimitPrice:
		return math.Max(q.Bid, o.LimitPrice), true
	}
	return 0, false
}

func (e *Engine) fillLocked(o *broker.Order, px float64, now time.Time) {
	qty := o.Qty - o.FilledQty
	notional := qty * px
	fee := notional * e.feeBps / 1e4

	p := e.positions[o.Symbol]
	if p == nil {
		p = &position{}
		e.positions[o.Symbol] = p
	}
	if o.Side == broker.Buy {
		p.avgEntry = (p.avgEntry*p.qty + notional) / (p.qty + qty)
		p.qty += qty
		e.cash -= notional + fee
	} else {
		p.qty -= qty
		e.cash += notional - fee
		if p.qty <= qtyEpsilon {
			delete(e.positions, o.Symbol)
		}
	}

	o.FilledAvgPrice = (o.FilledAvgPrice*o.FilledQty + notional) / (o.FilledQty + qty)
	o.FilledQty += qty
	o.Status = broker.StatusFilled
	o.UpdatedAt = now

	e.fills = append(e.fills, broker.Fill{
		ID:      id.New(),
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Qty:     qty,
		Price:   px,
		Fee:     fee,
		Time:    now,
	})
}

// UpdatePrice sets the quote for q.Symbol and fills any resting limit
// orders it crosses. It returns the orders that filled.
func (e *Engine) UpdatePrice(q market.Quote) []broker.Order {
	e.mu.Lock()
	e.quotes[q.Symbol] = q
	now := e.now()

	var filled []broker.Order
	for _, o := range e.sortedOrdersLocked() {
		if o.Symbol != q.Symbol || o.Status.Terminal() || o.Type != broker.Limit {
			continue
		}
		if o.Side == broker.Sell && e.positions[o.Symbol] == nil {
			continue
		}
		if px, ok := marketable(o, q); ok {
			e.fillLocked(o, px, now)
			filled = append(filled, *o)
		}
	}
	e.mu.Unlock()

	// publish after releasing the lock
	for _, o := range filled {
		e.tracker.Publish(o)
	}
	return filled
}

func (e *Engine) sortedOrdersLocked() []*broker.Order {
	out := make([]*broker.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quote returns the last quote fed to UpdatePrice.
func (e *Engine) Quote(symbol string) (market.Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[symbol]
	return q, ok
}

func (e *Engine) ListOpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []broker.Order
	for _, o := range e.sortedOrdersLocked() {
		if o.Status.Terminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (broker.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("get order %s: %w", orderID, broker.ErrOrderNotFound)
	}
	return *o, nil
}

func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("cancel order %s: %w", orderID, broker.ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		e.mu.Unlock()
		return &broker.APIError{Op: "cancel order", Status: http.StatusUnprocessableEntity, Message: "order is already " + string(o.Status)}
	}
	o.Status = broker.StatusCanceled
	o.UpdatedAt = e.now()
	out := *o
	e.mu.Unlock()

	e.tracker.Publish(out)
	return nil
}

func (e *Engine) GetPosition(ctx context.Context, symbol string) (broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return broker.Position{}, fmt.Errorf("get position %s: %w", symbol, broker.ErrNoPosition)
	}
	return e.positionLocked(symbol, p), nil
}

func (e *Engine) positionLocked(symbol string, p *position) broker.Position {
	mark := e.quotes[symbol].Bid
	return broker.Position{
		Symbol:        symbol,
		Qty:           p.qty,
		AvgEntryPrice: p.avgEntry,
		CurrentPrice:  mark,
		MarketValue:   p.qty * mark,
		UnrealizedPL:  p.qty * (mark - p.avgEntry),
	}
}

func (e *Engine) ListPositions(ctx context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.Position, 0, len(e.positions))
	for sym, p := range e.positions {
		out = append(out, e.positionLocked(sym, p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (e *Engine) ListFills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []broker.Fill
	for _, f := range e.fills {
		if !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// WaitTerminal implements broker.OrderStreamer.
func (e *Engine) WaitTerminal(ctx context.Context, orderID string) (broker.Order, error) {
	return e.tracker.Wait(ctx, orderID)
}

// Seed opens a position directly, as if it had been bought elsewhere.
func (e *Engine) Seed(symbol string, qty, avgEntry float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = &position{qty: qty, avgEntry: avgEntry}
	e.cash -= qty * avgEntry
}
