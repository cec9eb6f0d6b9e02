// Package broker defines the brokerage contract the engine trades through.
// Adapters live in broker/alpaca (REST + trade_updates stream) and
// broker/sim (in-process paper brokerage).
package broker

import (
	"context"
	"time"
)

type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	CancelOrder(ctx context.Context, id string) error
	// GetPosition returns ErrNoPosition when nothing is held.
	GetPosition(ctx context.Context, symbol string) (Position, error)
	ListPositions(ctx context.Context) ([]Position, error)
	ListFills(ctx context.Context, since time.Time) ([]Fill, error)
}

// OrderStreamer is implemented by brokers that push order updates.
type OrderStreamer interface {
	// WaitTerminal blocks until the order is filled, canceled, expired or
	// rejected, or ctx ends.
	WaitTerminal(ctx context.Context, orderID string) (Order, error)
}

type Account struct {
	ID                       string  `json:"id"`
	Currency                 string  `json:"currency"`
	Equity                   float64 `json:"equity"`
	LastEquity               float64 `json:"last_equity"`
	Cash                     float64 `json:"cash"`
	BuyingPower              float64 `json:"buying_power"`
	NonMarginableBuyingPower float64 `json:"non_marginable_buying_power"`
	TradingBlocked           bool    `json:"trading_blocked"`
	AccountBlocked           bool    `json:"account_blocked"`
	SuspendedByUser          bool    `json:"trade_suspended_by_user"`
}

// Spendable is the buying power used for sizing.
func (a Account) Spendable(margin bool) float64 {
	if margin {
		return a.BuyingPower
	}
	return a.NonMarginableBuyingPower
}

// Blocked returns a reason when the account cannot open positions.
func (a Account) Blocked() (string, bool) {
	switch {
	case a.AccountBlocked:
		return "account blocked", true
	case a.TradingBlocked:
		return "trading blocked", true
	case a.SuspendedByUser:
		return "trading suspended by user", true
	}
	return "", false
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type TimeInForce string

const (
	IOC TimeInForce = "ioc"
	GTC TimeInForce = "gtc"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPendingNew      OrderStatus = "pending_new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusExpired         OrderStatus = "expired"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// OrderRequest is submitted once and never mutated. Exactly one of Qty
// and Notional is set.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	Qty           float64     `json:"qty,omitempty"`
	Notional      float64     `json:"notional,omitempty"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	ClientOrderID string      `json:"client_order_id"`
}

type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	Qty            float64     `json:"qty"`
	Notional       float64     `json:"notional"`
	LimitPrice     float64     `json:"limit_price"`
	Status         OrderStatus `json:"status"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Filled reports whether any quantity executed.
func (o Order) Filled() bool {
	return o.FilledQty > 0
}

type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// Fill is one execution from the account activity feed.
type Fill struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Fee     float64   `json:"fee"`
	Time    time.Time `json:"time"`
}

// Notional is qty × price.
func (f Fill) Notional() float64 {
	return f.Qty * f.Price
}
