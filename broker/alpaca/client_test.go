package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{Timeout: time.Second, MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "key", "secret", testPolicy())
}

func TestBaseURL(t *testing.T) {
	u, err := BaseURL("paper")
	require.NoError(t, err)
	assert.Equal(t, PaperURL, u)
	_, err = BaseURL("moon")
	assert.Error(t, err)
	assert.Equal(t, "wss://paper-api.alpaca.markets/stream", StreamURL(PaperURL))
}

func TestGetAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"id":"acct","currency":"USD","equity":"10250.5","last_equity":"10000",
			"cash":"5000","buying_power":"10000","non_marginable_buying_power":"5000",
			"trading_blocked":false,"account_blocked":false,"trade_suspended_by_user":true}`))
	})

	a, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10250.5, a.Equity)
	assert.Equal(t, 10000.0, a.LastEquity)
	assert.Equal(t, 5000.0, a.Spendable(false))
	assert.Equal(t, 10000.0, a.Spendable(true))
	reason, blocked := a.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "trading suspended by user", reason)
}

func TestSubmitOrderWire(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ETH/USD", body["symbol"])
		assert.Equal(t, "buy", body["side"])
		assert.Equal(t, "limit", body["type"])
		assert.Equal(t, "ioc", body["time_in_force"])
		assert.Equal(t, "9.970089", body["qty"])
		assert.Equal(t, "100.3", body["limit_price"])
		assert.Equal(t, "cid-1", body["client_order_id"])
		assert.NotContains(t, body, "notional")
		_, _ = w.Write([]byte(`{"id":"o-1","client_order_id":"cid-1","symbol":"ETH/USD","side":"buy",
			"type":"limit","time_in_force":"ioc","qty":"9.970089","limit_price":"100.3",
			"status":"filled","filled_qty":"9.970089","filled_avg_price":"100.1"}`))
	})

	o, err := c.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Limit, TimeInForce: broker.IOC,
		Qty: 9.9700891, LimitPrice: 100.3002, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, o.Status)
	assert.Equal(t, 100.1, o.FilledAvgPrice)
	assert.True(t, o.Filled())
}

func TestSubmitOrderRejected(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"insufficient balance for USD"}`))
	})

	_, err := c.SubmitOrder(context.Background(), broker.OrderRequest{Symbol: "ETH/USD", Side: broker.Buy, Type: broker.Market, Qty: 1})
	require.Error(t, err)
	assert.True(t, broker.IsRejected(err))
	assert.Equal(t, "insufficient balance for USD", broker.Reason(err))
	assert.Equal(t, int32(1), calls.Load(), "rejections are not retried")
}

func TestSubmitOrderRetryResolvesDuplicate(t *testing.T) {
	var posts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			if posts.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":40010001,"message":"client_order_id must be unique"}`))
		case r.URL.Path == "/v2/orders:by_client_order_id":
			assert.Equal(t, "cid-9", r.URL.Query().Get("client_order_id"))
			_, _ = w.Write([]byte(`{"id":"o-9","client_order_id":"cid-9","symbol":"BTC/USD","status":"accepted"}`))
		default:
			http.NotFound(w, r)
		}
	})

	o, err := c.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "BTC/USD", Side: broker.Buy, Type: broker.Market, Qty: 0.01, ClientOrderID: "cid-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "o-9", o.ID)
	assert.Equal(t, int32(2), posts.Load())
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSD","qty":"0.5","avg_entry_price":"60000","current_price":"61000","market_value":"30500","unrealized_pl":"500"}]`))
	})

	ps, err := c.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "BTC/USD", ps[0].Symbol)
	assert.Equal(t, 30500.0, ps[0].MarketValue)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPositionNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions/ETHUSD", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":40410000,"message":"position does not exist"}`))
	})
	_, err := c.GetPosition(context.Background(), "ETH/USD")
	assert.ErrorIs(t, err, broker.ErrNoPosition)
}

func TestOpenOrdersAndCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "open", r.URL.Query().Get("status"))
			assert.Equal(t, "SOL/USD", r.URL.Query().Get("symbols"))
			_, _ = w.Write([]byte(`[{"id":"tp-1","symbol":"SOL/USD","side":"sell","type":"limit","time_in_force":"gtc","qty":"9.99","limit_price":"21","status":"new"}]`))
		case http.MethodDelete:
			if r.URL.Path == "/v2/orders/missing" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	open, err := c.ListOpenOrders(ctx, "SOL/USD")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 21.0, open[0].LimitPrice)
	assert.False(t, open[0].Status.Terminal())

	assert.NoError(t, c.CancelOrder(ctx, "tp-1"))
	assert.ErrorIs(t, c.CancelOrder(ctx, "missing"), broker.ErrOrderNotFound)
}

func TestListFills(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account/activities/FILL", r.URL.Path)
		assert.Equal(t, "2024-06-01T00:00:00Z", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`[{"id":"a1","order_id":"o-1","symbol":"ETHUSD","side":"buy","qty":"2","price":"100.5","transaction_time":"2024-06-01T10:00:00Z"}]`))
	})

	fills, err := c.ListFills(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "ETH/USD", fills[0].Symbol)
	assert.Equal(t, 201.0, fills[0].Notional())
}
