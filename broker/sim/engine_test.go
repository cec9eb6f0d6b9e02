package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
)

func newEngine(t *testing.T, cash float64) *Engine {
	t.Helper()
	e := NewEngine(cash, 0)
	e.SetClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) })
	return e
}

func setPrice(e *Engine, symbol string, bid, ask float64) []broker.Order {
	return e.UpdatePrice(market.Quote{Symbol: symbol, Bid: bid, Ask: ask})
}

func buy(t *testing.T, e *Engine, symbol string, qty, limit float64, tif broker.TimeInForce) broker.Order {
	t.Helper()
	o, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: symbol, Side: broker.Buy, Type: broker.Limit, TimeInForce: tif,
		Qty: qty, LimitPrice: limit,
	})
	require.NoError(t, err)
	return o
}

func TestIOCBuyFillsAtAsk(t *testing.T) {
	e := newEngine(t, 10000)
	setPrice(e, "ETH/USD", 99.9, 100.1)

	o := buy(t, e, "ETH/USD", 10, 100.3, broker.IOC)
	assert.Equal(t, broker.StatusFilled, o.Status)
	assert.InDelta(t, 100.1, o.FilledAvgPrice, 1e-9)
	assert.InDelta(t, 10, o.FilledQty, 1e-9)

	p, err := e.GetPosition(context.Background(), "ETH/USD")
	require.NoError(t, err)
	assert.InDelta(t, 10, p.Qty, 1e-9)
	assert.InDelta(t, 100.1, p.AvgEntryPrice, 1e-9)

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000-1001, acct.Cash, 1e-6)
	assert.InDelta(t, 10000-1001+999, acct.Equity, 1e-6)
}

func TestIOCBuyBelowAskCancels(t *testing.T) {
	e := newEngine(t, 10000)
	setPrice(e, "ETH/USD", 99.9, 100.1)

	o := buy(t, e, "ETH/USD", 10, 99.0, broker.IOC)
	assert.Equal(t, broker.StatusCanceled, o.Status)
	assert.False(t, o.Filled())

	_, err := e.GetPosition(context.Background(), "ETH/USD")
	assert.ErrorIs(t, err, broker.ErrNoPosition)
}

func TestRestingSellFillsOnPriceUpdate(t *testing.T) {
	e := newEngine(t, 10000)
	ctx := context.Background()
	setPrice(e, "BTC/USD", 99.9, 100.1)
	buy(t, e, "BTC/USD", 5, 101, broker.IOC)

	tp, err := e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "BTC/USD", Side: broker.Sell, Type: broker.Limit, TimeInForce: broker.GTC,
		Qty: 5, LimitPrice: 102,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusNew, tp.Status)

	open, err := e.ListOpenOrders(ctx, "BTC/USD")
	require.NoError(t, err)
	require.Len(t, open, 1)

	assert.Empty(t, setPrice(e, "BTC/USD", 101.5, 101.7))
	filled := setPrice(e, "BTC/USD", 102.2, 102.4)
	require.Len(t, filled, 1)
	assert.Equal(t, tp.ID, filled[0].ID)
	assert.InDelta(t, 102.2, filled[0].FilledAvgPrice, 1e-9)

	_, err = e.GetPosition(ctx, "BTC/USD")
	assert.ErrorIs(t, err, broker.ErrNoPosition)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := e.WaitTerminal(waitCtx, tp.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, got.Status)
}

func TestSellBeyondAvailableRejected(t *testing.T) {
	e := newEngine(t, 10000)
	ctx := context.Background()
	setPrice(e, "SOL/USD", 19.9, 20.1)
	buy(t, e, "SOL/USD", 10, 21, broker.IOC)

	_, err := e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "SOL/USD", Side: broker.Sell, Type: broker.Limit, TimeInForce: broker.GTC,
		Qty: 9.99, LimitPrice: 25,
	})
	require.NoError(t, err)

	// the resting TP holds all but 0.01
	_, err = e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "SOL/USD", Side: broker.Sell, Type: broker.Market, Qty: 1,
	})
	require.Error(t, err)
	assert.True(t, broker.IsRejected(err))
	assert.Contains(t, broker.Reason(err), "insufficient balance")
}

func TestInsufficientCashRejected(t *testing.T) {
	e := newEngine(t, 100)
	setPrice(e, "ETH/USD", 99.9, 100.1)

	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Limit, TimeInForce: broker.IOC,
		Qty: 2, LimitPrice: 101,
	})
	var apiErr *broker.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Status)
}

func TestDuplicateClientOrderID(t *testing.T) {
	e := newEngine(t, 10000)
	ctx := context.Background()
	setPrice(e, "ETH/USD", 99.9, 100.1)

	req := broker.OrderRequest{
		Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Limit, TimeInForce: broker.IOC,
		Qty: 1, LimitPrice: 101, ClientOrderID: "abc",
	}
	_, err := e.SubmitOrder(ctx, req)
	require.NoError(t, err)
	_, err = e.SubmitOrder(ctx, req)
	assert.True(t, broker.IsRejected(err))
}

func TestCancelRestingOrder(t *testing.T) {
	e := newEngine(t, 10000)
	ctx := context.Background()
	setPrice(e, "ETH/USD", 99.9, 100.1)

	o := buy(t, e, "ETH/USD", 1, 95, broker.GTC)
	require.Equal(t, broker.StatusNew, o.Status)

	acct, _ := e.GetAccount(ctx)
	assert.InDelta(t, 10000-95, acct.BuyingPower, 1e-9)

	require.NoError(t, e.CancelOrder(ctx, o.ID))
	got, err := e.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCanceled, got.Status)

	assert.Error(t, e.CancelOrder(ctx, o.ID))
	assert.ErrorIs(t, e.CancelOrder(ctx, "missing"), broker.ErrOrderNotFound)
}

func TestFeesAndFills(t *testing.T) {
	e := NewEngine(10000, 25)
	ctx := context.Background()
	setPrice(e, "ETH/USD", 100, 100)

	buy(t, e, "ETH/USD", 10, 100, broker.IOC)
	fills, err := e.ListFills(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 2.5, fills[0].Fee, 1e-9)
	assert.InDelta(t, 1000, fills[0].Notional(), 1e-9)

	acct, _ := e.GetAccount(ctx)
	assert.InDelta(t, 10000-1002.5, acct.Cash, 1e-9)
}

func TestInjectedErrorAndBlocked(t *testing.T) {
	e := newEngine(t, 10000)
	ctx := context.Background()
	setPrice(e, "ETH/USD", 99.9, 100.1)

	boom := &broker.APIError{Op: "submit order", Status: 503, Message: "unavailable"}
	e.InjectError(boom)
	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Market, Qty: 1})
	assert.True(t, broker.IsRetryable(err))

	e.SetTradingBlocked(true)
	acct, _ := e.GetAccount(ctx)
	_, blocked := acct.Blocked()
	assert.True(t, blocked)
	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Market, Qty: 1})
	assert.True(t, broker.IsRejected(err))
}
