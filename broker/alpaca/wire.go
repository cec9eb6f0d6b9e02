package alpaca

import (
	"strconv"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
)

// Alpaca sends every amount as a decimal string.
type num string

func (n num) f() float64 {
	v, _ := strconv.ParseFloat(string(n), 64)
	return v
}

type wireAccount struct {
	ID                       string `json:"id"`
	Currency                 string `json:"currency"`
	Equity                   num    `json:"equity"`
	LastEquity               num    `json:"last_equity"`
	Cash                     num    `json:"cash"`
	BuyingPower              num    `json:"buying_power"`
	NonMarginableBuyingPower num    `json:"non_marginable_buying_power"`
	TradingBlocked           bool   `json:"trading_blocked"`
	AccountBlocked           bool   `json:"account_blocked"`
	SuspendedByUser          bool   `json:"trade_suspended_by_user"`
}

func (w wireAccount) account() broker.Account {
	return broker.Account{
		ID:                       w.ID,
		Currency:                 w.Currency,
		Equity:                   w.Equity.f(),
		LastEquity:               w.LastEquity.f(),
		Cash:                     w.Cash.f(),
		BuyingPower:              w.BuyingPower.f(),
		NonMarginableBuyingPower: w.NonMarginableBuyingPower.f(),
		TradingBlocked:           w.TradingBlocked,
		AccountBlocked:           w.AccountBlocked,
		SuspendedByUser:          w.SuspendedByUser,
	}
}

type wireOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

func newWireOrderRequest(r broker.OrderRequest) wireOrderRequest {
	w := wireOrderRequest{
		Symbol:        r.Symbol,
		Side:          string(r.Side),
		Type:          string(r.Type),
		TimeInForce:   string(r.TimeInForce),
		ClientOrderID: r.ClientOrderID,
	}
	if r.Qty > 0 {
		w.Qty = broker.FormatQty(r.Qty)
	} else if r.Notional > 0 {
		w.Notional = broker.FormatCents(r.Notional)
	}
	if r.Type == broker.Limit {
		w.LimitPrice = broker.FormatPrice(r.LimitPrice)
	}
	return w
}

type wireOrder struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	TimeInForce    string    `json:"time_in_force"`
	Qty            num       `json:"qty"`
	Notional       num       `json:"notional"`
	LimitPrice     num       `json:"limit_price"`
	Status         string    `json:"status"`
	FilledQty      num       `json:"filled_qty"`
	FilledAvgPrice num       `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (w wireOrder) order() broker.Order {
	return broker.Order{
		ID:             w.ID,
		ClientOrderID:  w.ClientOrderID,
		Symbol:         market.NormalizeSymbol(w.Symbol),
		Side:           broker.Side(w.Side),
		Type:           broker.OrderType(w.Type),
		TimeInForce:    broker.TimeInForce(w.TimeInForce),
		Qty:            w.Qty.f(),
		Notional:       w.Notional.f(),
		LimitPrice:     w.LimitPrice.f(),
		Status:         broker.OrderStatus(w.Status),
		FilledQty:      w.FilledQty.f(),
		FilledAvgPrice: w.FilledAvgPrice.f(),
		SubmittedAt:    w.SubmittedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

type wirePosition struct {
	Symbol        string `json:"symbol"`
	Qty           num    `json:"qty"`
	AvgEntryPrice num    `json:"avg_entry_price"`
	CurrentPrice  num    `json:"current_price"`
	MarketValue   num    `json:"market_value"`
	UnrealizedPL  num    `json:"unrealized_pl"`
}

func (w wirePosition) position() broker.Position {
	return broker.Position{
		Symbol:        market.NormalizeSymbol(w.Symbol),
		Qty:           w.Qty.f(),
		AvgEntryPrice: w.AvgEntryPrice.f(),
		CurrentPrice:  w.CurrentPrice.f(),
		MarketValue:   w.MarketValue.f(),
		UnrealizedPL:  w.UnrealizedPL.f(),
	}
}

type wireActivity struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Qty             num       `json:"qty"`
	Price           num       `json:"price"`
	TransactionTime time.Time `json:"transaction_time"`
}

// fill carries no fee; crypto fees are charged in the asset received.
func (w wireActivity) fill() broker.Fill {
	return broker.Fill{
		ID:      w.ID,
		OrderID: w.OrderID,
		Symbol:  market.NormalizeSymbol(w.Symbol),
		Side:    broker.Side(w.Side),
		Qty:     w.Qty.f(),
		Price:   w.Price.f(),
		Time:    w.TransactionTime,
	}
}
