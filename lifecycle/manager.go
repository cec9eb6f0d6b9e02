package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/id"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/risk"
)

var (
	// ErrDuplicate means the instrument already has an open order, held
	// quantity or trade state.
	ErrDuplicate = errors.New("position or open order already exists")
	// ErrUnfilled means the IOC entry expired without a fill.
	ErrUnfilled = errors.New("entry order not filled")
	// ErrFillTimeout means the fill could not be confirmed in time.
	ErrFillTimeout = errors.New("fill confirmation timed out")
	// ErrTooSmall means the order rounds down to nothing.
	ErrTooSmall = errors.New("order quantity rounds to zero")

	errClosedByTP = errors.New("closed by take-profit")
)

// ExitRecorder receives every completed exit; the admission controller
// implements it.
type ExitRecorder interface {
	RecordExit(symbol string, losing bool, p config.Preset)
}

type Options struct {
	FillPolls        int
	FillPollInterval time.Duration
	ConfirmRetries   int
	ConfirmInterval  time.Duration
}

func OptionsFrom(e config.EngineConfig) Options {
	return Options{
		FillPolls:        e.FillPolls,
		FillPollInterval: e.FillPollInterval,
		ConfirmRetries:   e.PositionConfirmRetries,
		ConfirmInterval:  e.PositionConfirmInterval,
	}
}

// Manager submits and manages orders for every instrument. All methods
// take the instrument's ledger lock.
type Manager struct {
	broker  broker.Broker
	ledger  *ledger.Ledger
	events  *journal.EventLog
	journal journal.Journal
	exits   ExitRecorder
	opts    Options
	log     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(b broker.Broker, l *ledger.Ledger, ev *journal.EventLog, j journal.Journal, exits ExitRecorder, opts Options, log *slog.Logger) *Manager {
	if opts.FillPolls <= 0 {
		opts.FillPolls = 20
	}
	if opts.ConfirmRetries <= 0 {
		opts.ConfirmRetries = 3
	}
	return &Manager{
		broker:  b,
		ledger:  l,
		events:  ev,
		journal: j,
		exits:   exits,
		opts:    opts,
		log:     log.With("component", "lifecycle"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDust reports a position too small to trade, such as the remainder a
// take-profit order leaves behind.
func IsDust(pos broker.Position, minNotional float64) bool {
	mv := pos.MarketValue
	if mv == 0 {
		mv = pos.Qty * pos.CurrentPrice
	}
	return pos.Qty <= 0 || math.Abs(mv) < minNotional
}

// EntryRequest is an admitted, sized entry.
type EntryRequest struct {
	Instrument market.Instrument
	Quote      market.Quote
	ATR        float64
	Impulse    float64
	Notional   float64
}

// EntryLimit is the IOC limit price: ask plus the slippage cap, halved when
// the recent impulse exceeds the threshold.
func EntryLimit(ask, impulse float64, p config.Preset) float64 {
	slip := p.SlippageCap
	if p.ImpulseThreshold > 0 && impulse > p.ImpulseThreshold {
		slip /= 2
	}
	return broker.RoundPrice(ask * (1 + slip))
}

// Enter submits an IOC limit buy, waits for the fill, seeds trade state and
// posts the take-profit order. The instrument stays locked throughout so
// the exit loop never sees a half-built position.
func (m *Manager) Enter(ctx context.Context, req EntryRequest, snap config.Snapshot) (ledger.TradeState, error) {
	sym := req.Instrument.Symbol
	p := snap.Preset
	unlock := m.ledger.Lock(sym)
	defer unlock()

	if err := m.checkDuplicate(ctx, sym, p); err != nil {
		return ledger.TradeState{}, err
	}

	limit := EntryLimit(req.Quote.Ask, req.Impulse, p)
	qty := broker.FloorQty(req.Notional / limit)
	if qty <= 0 {
		return ledger.TradeState{}, fmt.Errorf("%s: %w", sym, ErrTooSmall)
	}

	orderReq := broker.OrderRequest{
		Symbol:        sym,
		Side:          broker.Buy,
		Type:          broker.Limit,
		TimeInForce:   broker.IOC,
		Qty:           qty,
		LimitPrice:    limit,
		ClientOrderID: uuid.NewString(),
	}
	order, err := m.submit(ctx, orderReq)
	if err != nil {
		return ledger.TradeState{}, err
	}
	m.events.Emit(journal.EventOrderSubmitted, sym, "entry submitted", map[string]any{
		"phase": ledger.EntrySubmitted, "order_id": order.ID, "qty": qty, "limit": limit,
	})

	filled, err := m.awaitTerminal(ctx, order)
	if err != nil {
		m.events.Emit(journal.EventFillTimeout, sym, "gave up waiting for entry fill", map[string]any{"order_id": order.ID})
		m.log.Warn("entry fill not confirmed", "symbol", sym, "order_id", order.ID, "error", err)
		return ledger.TradeState{}, fmt.Errorf("%s: %w", sym, ErrFillTimeout)
	}
	if !filled.Filled() {
		m.events.Emit(journal.EventOrderUnfilled, sym, "entry expired unfilled", map[string]any{
			"phase": ledger.Closed, "order_id": order.ID, "status": filled.Status,
		})
		return ledger.TradeState{}, fmt.Errorf("%s: %w", sym, ErrUnfilled)
	}

	entry := filled.FilledAvgPrice
	held := filled.FilledQty
	if pos, ok := m.confirmPosition(ctx, sym); ok {
		held = pos.Qty
		if entry <= 0 {
			entry = pos.AvgEntryPrice
		}
	}

	st := Seed(id.New(), sym, entry, held, req.ATR, m.now(), p)
	st.EntryOrderID = order.ID
	if err := st.Transition(ledger.EntrySubmitted); err != nil {
		return ledger.TradeState{}, err
	}
	if err := st.Transition(ledger.Open); err != nil {
		return ledger.TradeState{}, err
	}
	st.Fees = entry * held * bps(p.FeeBps)

	m.events.Emit(journal.EventOrderFilled, sym, "entry filled", map[string]any{
		"order_id": order.ID, "qty": held, "price": entry, "stop": st.Stop, "take_profit": st.TakeProfit,
		"planned_risk": risk.PlannedRisk(held, entry, st.Stop), "rr": risk.RR(entry, st.Stop, st.TakeProfit),
	})
	if err := m.postTP(ctx, &st); err != nil {
		// the exit loop re-posts on its next tick
		m.log.Warn("take-profit not posted", "symbol", sym, "error", err)
	}
	if err := m.ledger.Create(st); err != nil {
		return ledger.TradeState{}, err
	}
	m.log.Info("position opened", "symbol", sym, "qty", held, "entry", entry, "stop", st.Stop, "tp", st.TakeProfit)
	return st, nil
}

func (m *Manager) checkDuplicate(ctx context.Context, sym string, p config.Preset) error {
	if _, ok := m.ledger.Get(sym); ok {
		return fmt.Errorf("%s: %w", sym, ErrDuplicate)
	}
	open, err := m.broker.ListOpenOrders(ctx, sym)
	if err != nil {
		return fmt.Errorf("%s: list open orders: %w", sym, err)
	}
	if len(open) > 0 {
		return fmt.Errorf("%s: %d open orders: %w", sym, len(open), ErrDuplicate)
	}
	pos, err := m.broker.GetPosition(ctx, sym)
	switch {
	case errors.Is(err, broker.ErrNoPosition):
		return nil
	case err != nil:
		return fmt.Errorf("%s: get position: %w", sym, err)
	case !IsDust(pos, p.MinNotional):
		return fmt.Errorf("%s: holding %v: %w", sym, pos.Qty, ErrDuplicate)
	}
	return nil
}

func (m *Manager) submit(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	order, err := m.broker.SubmitOrder(ctx, req)
	if err != nil {
		if broker.IsRejected(err) {
			metrics.OrderRejected(string(req.Side))
			m.events.Emit(journal.EventOrderRejected, req.Symbol, broker.Reason(err), map[string]any{
				"side": req.Side, "type": req.Type, "qty": req.Qty,
			})
			m.log.Warn("order rejected", "symbol", req.Symbol, "side", req.Side, "reason", broker.Reason(err))
		}
		return broker.Order{}, fmt.Errorf("%s: submit %s %s: %w", req.Symbol, req.Side, req.Type, err)
	}
	metrics.OrderSubmitted(string(req.Side), string(req.Type))
	return order, nil
}

// awaitTerminal waits for the order on the push stream when the broker has
// one, otherwise polls GetOrder.
func (m *Manager) awaitTerminal(ctx context.Context, order broker.Order) (broker.Order, error) {
	if order.Status.Terminal() {
		return order, nil
	}
	budget := time.Duration(m.opts.FillPolls) * m.opts.FillPollInterval

	if s, ok := m.broker.(broker.OrderStreamer); ok && budget > 0 {
		wctx, cancel := context.WithTimeout(ctx, budget)
		o, err := s.WaitTerminal(wctx, order.ID)
		cancel()
		if err == nil {
			return o, nil
		}
		// the stream may have dropped; one last look
		if o, gerr := m.broker.GetOrder(ctx, order.ID); gerr == nil && o.Status.Terminal() {
			return o, nil
		}
		return broker.Order{}, err
	}

	for i := 0; i < m.opts.FillPolls; i++ {
		o, err := m.broker.GetOrder(ctx, order.ID)
		if err == nil && o.Status.Terminal() {
			return o, nil
		}
		if err := m.sleep(ctx, m.opts.FillPollInterval); err != nil {
			return broker.Order{}, err
		}
	}
	return broker.Order{}, ErrFillTimeout
}

func (m *Manager) confirmPosition(ctx context.Context, sym string) (broker.Position, bool) {
	for i := 0; i < m.opts.ConfirmRetries; i++ {
		pos, err := m.broker.GetPosition(ctx, sym)
		if err == nil && pos.Qty > 0 {
			return pos, true
		}
		if err := m.sleep(ctx, m.opts.ConfirmInterval); err != nil {
			break
		}
	}
	return broker.Position{}, false
}

// postTP submits a GTC limit sell for the held quantity less the haircut.
func (m *Manager) postTP(ctx context.Context, st *ledger.TradeState) error {
	qty := broker.FloorQty(st.Qty * (1 - TPQtyHaircut))
	price := broker.RoundPrice(st.TakeProfit)
	if qty <= 0 {
		return ErrTooSmall
	}
	o, err := m.submit(ctx, broker.OrderRequest{
		Symbol:        st.Symbol,
		Side:          broker.Sell,
		Type:          broker.Limit,
		TimeInForce:   broker.GTC,
		Qty:           qty,
		LimitPrice:    price,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	st.TPOrderID = o.ID
	st.TPPrice = price
	st.LastTPRefresh = m.now()
	m.events.Emit(journal.EventTPPosted, st.Symbol, "take-profit posted", map[string]any{
		"order_id": o.ID, "qty": qty, "price": price,
	})
	return nil
}

// cancelTP removes the resting take-profit. It returns the order when the
// take-profit had already filled.
func (m *Manager) cancelTP(ctx context.Context, st *ledger.TradeState) (broker.Order, bool, error) {
	if st.TPOrderID == "" {
		return broker.Order{}, false, nil
	}
	tpID := st.TPOrderID
	err := m.broker.CancelOrder(ctx, tpID)
	if err == nil {
		st.TPOrderID = ""
		st.TPPrice = 0
		return broker.Order{}, false, nil
	}
	o, gerr := m.broker.GetOrder(ctx, tpID)
	if gerr != nil {
		if errors.Is(gerr, broker.ErrOrderNotFound) {
			st.TPOrderID = ""
			return broker.Order{}, false, nil
		}
		return broker.Order{}, false, fmt.Errorf("%s: cancel take-profit: %w", st.Symbol, err)
	}
	if !o.Status.Terminal() {
		return broker.Order{}, false, fmt.Errorf("%s: cancel take-profit: %w", st.Symbol, err)
	}
	st.TPOrderID = ""
	st.TPPrice = 0
	return o, o.Status == broker.StatusFilled, nil
}

// ManageExit runs one exit evaluation for symbol. A symbol whose lock is
// held by an entry in flight is skipped until the next tick.
func (m *Manager) ManageExit(ctx context.Context, symbol string, in Inputs, snap config.Snapshot) (Action, error) {
	unlock, ok := m.ledger.TryLock(symbol)
	if !ok {
		return Action{}, nil
	}
	defer unlock()

	st, ok := m.ledger.Get(symbol)
	if !ok {
		return Action{}, nil
	}
	p := snap.Preset
	a := Evaluate(st, in, p, m.now())
	next := a.State

	if a.StopRaised {
		m.events.Emit(journal.EventStopRaised, symbol, "stop raised", map[string]any{"from": st.Stop, "to": next.Stop})
	}

	switch a.Kind {
	case Full:
		err := m.exitLocked(ctx, next, a.Reason, in.Mark, snap)
		if errors.Is(err, errClosedByTP) {
			a.Reason, err = ReasonTakeProfit, nil
		}
		return a, err
	case Partial:
		if err := m.partialLocked(ctx, &next, a.PartialQty, in.Mark, snap); err != nil {
			return closedOr(a, err, func() { m.ledger.Put(next) })
		}
		a.RefreshTP = true
	}

	if a.RefreshTP {
		if err := m.refreshTPLocked(ctx, &next, snap); err != nil {
			return closedOr(a, err, func() { m.ledger.Put(next) })
		}
	}
	m.ledger.Put(next)
	a.State = next
	return a, nil
}

// closedOr turns a take-profit fill found mid-tick into a full exit and
// otherwise keeps the updated state.
func closedOr(a Action, err error, keep func()) (Action, error) {
	if errors.Is(err, errClosedByTP) {
		a.Kind, a.Reason = Full, ReasonTakeProfit
		return a, nil
	}
	keep()
	return a, err
}

func (m *Manager) refreshTPLocked(ctx context.Context, st *ledger.TradeState, snap config.Snapshot) error {
	old := st.TPPrice
	tp, filled, err := m.cancelTP(ctx, st)
	if err != nil {
		return err
	}
	if filled {
		return m.closeOnTPLocked(*st, tp, snap)
	}
	if err := m.postTP(ctx, st); err != nil {
		return err
	}
	if old > 0 {
		m.events.Emit(journal.EventTPRefreshed, st.Symbol, "take-profit refreshed", map[string]any{
			"from": old, "to": st.TPPrice, "order_id": st.TPOrderID,
		})
	}
	return nil
}

// sellLocked market-sells qty and returns the average fill price, falling
// back to mark when the fill cannot be confirmed.
func (m *Manager) sellLocked(ctx context.Context, sym string, qty, mark float64) (float64, float64, error) {
	order, err := m.submit(ctx, broker.OrderRequest{
		Symbol:        sym,
		Side:          broker.Sell,
		Type:          broker.Market,
		TimeInForce:   broker.IOC,
		Qty:           qty,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return 0, 0, err
	}
	filled, err := m.awaitTerminal(ctx, order)
	if err != nil {
		m.events.Emit(journal.EventFillTimeout, sym, "exit fill not confirmed", map[string]any{"order_id": order.ID})
		return mark, qty, nil
	}
	if !filled.Filled() {
		return 0, 0, fmt.Errorf("%s: exit %s: %w", sym, filled.Status, ErrUnfilled)
	}
	return filled.FilledAvgPrice, filled.FilledQty, nil
}

func (m *Manager) partialLocked(ctx context.Context, st *ledger.TradeState, qty, mark float64, snap config.Snapshot) error {
	p := snap.Preset
	tp, filled, err := m.cancelTP(ctx, st)
	if err != nil {
		return err
	}
	if filled {
		return m.closeOnTPLocked(*st, tp, snap)
	}
	px, sold, err := m.sellLocked(ctx, st.Symbol, qty, mark)
	if err != nil {
		return err
	}
	pl := (px - st.EntryPrice) * sold
	fees := px * sold * bps(p.FeeBps)
	st.Qty = broker.FloorQty(st.Qty - sold)
	st.RealizedPL += pl - fees
	st.PartialDone = true
	if err := st.Transition(ledger.PartiallyExited); err != nil {
		return err
	}

	m.record(journal.TradeRecord{
		TradeID:    st.TradeID,
		Symbol:     st.Symbol,
		Qty:        sold,
		EntryPrice: st.EntryPrice,
		ExitPrice:  px,
		OpenTime:   st.EntryTime,
		CloseTime:  m.now(),
		RealizedPL: pl,
		Fees:       fees,
		Reason:     ReasonPartial,
		Preset:     snap.PresetName,
	})
	metrics.Exit(ReasonPartial)
	m.events.Emit(journal.EventPartialExit, st.Symbol, "partial take-profit", map[string]any{
		"qty": sold, "price": px, "remaining": st.Qty, "stop": st.Stop,
	})
	return nil
}

// exitLocked closes the whole position: cancel the take-profit, sell what
// is held, clear the state and report the outcome.
func (m *Manager) exitLocked(ctx context.Context, st ledger.TradeState, reason string, mark float64, snap config.Snapshot) error {
	tp, filled, err := m.cancelTP(ctx, &st)
	if err != nil {
		m.ledger.Put(st)
		return err
	}
	if filled {
		return m.closeOnTPLocked(st, tp, snap)
	}

	qty := st.Qty
	pos, err := m.broker.GetPosition(ctx, st.Symbol)
	switch {
	case errors.Is(err, broker.ErrNoPosition):
		qty = 0
	case err != nil:
		m.ledger.Put(st)
		return fmt.Errorf("%s: get position: %w", st.Symbol, err)
	default:
		qty = broker.FloorQty(pos.Qty)
		if mark <= 0 {
			mark = pos.CurrentPrice
		}
	}

	px := mark
	if qty > 0 {
		px, qty, err = m.sellLocked(ctx, st.Symbol, qty, mark)
		if err != nil {
			m.ledger.Put(st)
			return err
		}
	}
	m.finishLocked(st, qty, px, reason, snap)
	return nil
}

func (m *Manager) closeOnTPLocked(st ledger.TradeState, tp broker.Order, snap config.Snapshot) error {
	// the haircut remainder is dust and stays with the account
	m.finishLocked(st, tp.FilledQty, tp.FilledAvgPrice, ReasonTakeProfit, snap)
	return errClosedByTP
}

// finishLocked records the closing leg and removes the state. The entry
// fee is booked on the closing record; RealizedPL already carries earlier
// partial exits net of their fees.
func (m *Manager) finishLocked(st ledger.TradeState, qty, px float64, reason string, snap config.Snapshot) {
	p := snap.Preset
	pl := (px - st.EntryPrice) * qty
	fees := st.Fees + px*qty*bps(p.FeeBps)
	net := st.RealizedPL + pl - fees
	if err := st.Transition(ledger.Closed); err != nil {
		m.log.Debug("closing from unexpected phase", "symbol", st.Symbol, "phase", st.Phase)
	}

	m.ledger.Delete(st.Symbol)
	rec := journal.TradeRecord{
		TradeID:    st.TradeID,
		Symbol:     st.Symbol,
		Qty:        qty,
		EntryPrice: st.EntryPrice,
		ExitPrice:  px,
		OpenTime:   st.EntryTime,
		CloseTime:  m.now(),
		RealizedPL: pl,
		Fees:       fees,
		Reason:     reason,
		Preset:     snap.PresetName,
	}
	m.record(rec)

	losing := net < 0
	if m.exits != nil {
		m.exits.RecordExit(st.Symbol, losing, p)
	}
	metrics.Exit(reason)
	m.events.Emit(journal.EventExit, st.Symbol, "position closed: "+reason, map[string]any{
		"reason": reason, "qty": qty, "price": px, "net_pl": net, "losing": losing,
	})
	m.log.Info("position closed", "symbol", st.Symbol, "reason", reason, "price", px, "net_pl", net, "losing", losing)
}

func (m *Manager) record(rec journal.TradeRecord) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordTrade(rec); err != nil {
		m.log.Error("journal trade", "symbol", rec.Symbol, "error", err)
	}
}

// Close exits symbol at market, waiting for any in-flight work on it.
// Untracked holdings are sold too.
func (m *Manager) Close(ctx context.Context, symbol, reason string, snap config.Snapshot) error {
	unlock := m.ledger.Lock(symbol)
	defer unlock()

	if st, ok := m.ledger.Get(symbol); ok {
		if err := m.exitLocked(ctx, st, reason, 0, snap); !errors.Is(err, errClosedByTP) {
			return err
		}
		return nil
	}

	open, err := m.broker.ListOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: list open orders: %w", symbol, err)
	}
	for _, o := range open {
		if err := m.broker.CancelOrder(ctx, o.ID); err != nil {
			m.log.Warn("cancel order", "symbol", symbol, "order_id", o.ID, "error", err)
		}
	}
	pos, err := m.broker.GetPosition(ctx, symbol)
	if errors.Is(err, broker.ErrNoPosition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: get position: %w", symbol, err)
	}
	if IsDust(pos, snap.Preset.MinNotional) {
		return nil
	}
	px, qty, err := m.sellLocked(ctx, symbol, broker.FloorQty(pos.Qty), pos.CurrentPrice)
	if err != nil {
		return err
	}
	metrics.Exit(reason)
	m.events.Emit(journal.EventExit, symbol, "untracked position closed: "+reason, map[string]any{
		"reason": reason, "qty": qty, "price": px,
	})
	return nil
}

// Flatten closes every tracked and held position. Failures are collected
// so one instrument never blocks the rest.
func (m *Manager) Flatten(ctx context.Context, reason string, snap config.Snapshot) error {
	symbols := map[string]bool{}
	for _, s := range m.ledger.Symbols() {
		symbols[s] = true
	}
	positions, err := m.broker.ListPositions(ctx)
	if err != nil {
		m.log.Warn("list positions for flatten", "error", err)
	}
	for _, pos := range positions {
		if !IsDust(pos, snap.Preset.MinNotional) {
			symbols[pos.Symbol] = true
		}
	}

	var errs []error
	for s := range symbols {
		if err := m.Close(ctx, s, reason, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Adopt starts tracking a position the ledger does not know, typically an
// entry whose fill confirmation timed out. A resting sell limit for the
// symbol becomes its take-profit.
func (m *Manager) Adopt(ctx context.Context, pos broker.Position, atr float64, snap config.Snapshot) (ledger.TradeState, error) {
	unlock, ok := m.ledger.TryLock(pos.Symbol)
	if !ok {
		return ledger.TradeState{}, nil
	}
	defer unlock()
	if st, ok := m.ledger.Get(pos.Symbol); ok {
		return st, nil
	}

	st := Seed(id.New(), pos.Symbol, pos.AvgEntryPrice, pos.Qty, atr, m.now(), snap.Preset)
	st.Adopted = true
	if err := st.Transition(ledger.Open); err != nil {
		return ledger.TradeState{}, err
	}

	open, err := m.broker.ListOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return ledger.TradeState{}, fmt.Errorf("%s: list open orders: %w", pos.Symbol, err)
	}
	for _, o := range open {
		if o.Side == broker.Sell && o.Type == broker.Limit && st.TPOrderID == "" {
			st.TPOrderID = o.ID
			st.TPPrice = o.LimitPrice
			st.LastTPRefresh = m.now()
			continue
		}
		if err := m.broker.CancelOrder(ctx, o.ID); err != nil {
			m.log.Warn("cancel stray order", "symbol", pos.Symbol, "order_id", o.ID, "error", err)
		}
	}

	if err := m.ledger.Create(st); err != nil {
		return ledger.TradeState{}, err
	}
	m.events.Emit(journal.EventAdopted, pos.Symbol, "adopted untracked position", map[string]any{
		"qty": pos.Qty, "entry": pos.AvgEntryPrice, "stop": st.Stop, "take_profit": st.TakeProfit,
	})
	m.log.Info("position adopted", "symbol", pos.Symbol, "qty", pos.Qty, "entry", pos.AvgEntryPrice)
	return st, nil
}

// ClearFlat drops state for a symbol the brokerage no longer holds, either
// because the take-profit filled or the position was closed elsewhere.
func (m *Manager) ClearFlat(ctx context.Context, symbol string, mark float64, snap config.Snapshot) error {
	unlock, ok := m.ledger.TryLock(symbol)
	if !ok {
		return nil
	}
	defer unlock()
	st, ok := m.ledger.Get(symbol)
	if !ok {
		return nil
	}

	reason, qty, px := ReasonExternal, st.Qty, mark
	if st.TPOrderID != "" {
		o, err := m.broker.GetOrder(ctx, st.TPOrderID)
		switch {
		case err == nil && o.Status == broker.StatusFilled:
			reason, qty, px = ReasonTakeProfit, o.FilledQty, o.FilledAvgPrice
		case err == nil && !o.Status.Terminal():
			if err := m.broker.CancelOrder(ctx, o.ID); err != nil {
				m.log.Warn("cancel orphaned take-profit", "symbol", symbol, "error", err)
			}
		}
	}
	if px <= 0 {
		px = st.EntryPrice
	}
	m.events.Emit(journal.EventCleared, symbol, "position no longer held", map[string]any{"reason": reason})
	m.finishLocked(st, qty, px, reason, snap)
	return nil
}
