package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{Timeout: time.Second, MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

var btc = market.Instrument{Symbol: "BTC/USD", DataAlias: "BTC"}

func TestPrice(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/price", r.URL.Path)
		assert.Equal(t, "BTC", r.URL.Query().Get("fsym"))
		assert.Equal(t, "USD", r.URL.Query().Get("tsyms"))
		assert.Equal(t, "Apikey k", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"USD":64250.5}`))
	}))
	defer server.Close()

	c := NewCryptoCompare(server.URL, "k", testPolicy())
	p, err := c.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 64250.5, p)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPriceMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"Error","Message":"fsym is not a valid symbol"}`))
	}))
	defer server.Close()

	c := NewCryptoCompare(server.URL, "", testPolicy())
	_, err := c.Price(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "not a valid symbol")
}

func TestPriceServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewCryptoCompare(server.URL, "", testPolicy())
	_, err := c.Price(context.Background(), "BTC")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/v2/histominute":
			assert.Equal(t, "5", r.URL.Query().Get("aggregate"))
		case "/data/v2/histohour":
			assert.Empty(t, r.URL.Query().Get("aggregate"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[
			{"time":1704067200,"high":11,"low":9,"open":10,"volumefrom":5,"close":10.5},
			{"time":1704067500,"high":0,"low":0,"open":0,"volumefrom":0,"close":0},
			{"time":1704067800,"high":12,"low":10,"open":10.5,"volumefrom":7,"close":11.5}
		]}}`))
	}))
	defer server.Close()

	c := NewCryptoCompare(server.URL, "", testPolicy())
	bars, err := c.Bars(context.Background(), "BTC", market.M5, 100)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), bars[0].Time)
	assert.Equal(t, 5.0, bars[0].Volume)
	assert.Equal(t, 11.5, bars[1].Close)

	_, err = c.Bars(context.Background(), "BTC", market.H1, 100)
	require.NoError(t, err)

	_, err = c.Bars(context.Background(), "BTC", market.Timeframe(30*time.Second), 100)
	assert.Error(t, err)
}

func TestBarsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"Success","Data":{}}`))
	}))
	defer server.Close()

	c := NewCryptoCompare(server.URL, "", testPolicy())
	_, err := c.Bars(context.Background(), "BTC", market.M1, 10)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestAlpacaQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta3/crypto/us/latest/quotes", r.URL.Path)
		assert.Equal(t, "BTC/USD", r.URL.Query().Get("symbols"))
		assert.Equal(t, "id", r.Header.Get("APCA-API-KEY-ID"))
		w.Write([]byte(`{"quotes":{"BTC/USD":{"ap":100.1,"as":1,"bp":99.9,"bs":2,"t":"2024-01-01T00:00:00Z"}}}`))
	}))
	defer server.Close()

	a := NewAlpacaQuotes(server.URL, "id", "secret", testPolicy())
	q, err := a.Quote(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 99.9, q.Bid)
	assert.Equal(t, 100.1, q.Ask)
	assert.False(t, q.Synthetic)

	_, err = a.Quote(context.Background(), "ETH/USD")
	assert.ErrorIs(t, err, ErrNoData)
}

type stubPrices struct {
	price float64
	bars  []market.Bar
	limit int
	err   error
}

func (s *stubPrices) Price(ctx context.Context, alias string) (float64, error) {
	return s.price, s.err
}

func (s *stubPrices) Bars(ctx context.Context, alias string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	s.limit = limit
	return s.bars, s.err
}

type stubQuotes struct{ err error }

func (s stubQuotes) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	if s.err != nil {
		return market.Quote{}, s.err
	}
	return market.Quote{Symbol: symbol, Bid: 1, Ask: 2}, nil
}

func TestGatewayQuoteFallback(t *testing.T) {
	prices := &stubPrices{price: 100}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	g := NewGateway(prices, stubQuotes{err: ErrNoData}, 20, logging.Discard())
	g.now = func() time.Time { return now }
	q, err := g.Quote(context.Background(), btc)
	require.NoError(t, err)
	assert.True(t, q.Synthetic)
	assert.InDelta(t, 99.9, q.Bid, 1e-9)
	assert.InDelta(t, 100.1, q.Ask, 1e-9)
	assert.Equal(t, now, q.Time)

	g = NewGateway(prices, stubQuotes{}, 20, logging.Discard())
	q, err = g.Quote(context.Background(), btc)
	require.NoError(t, err)
	assert.False(t, q.Synthetic)

	g = NewGateway(&stubPrices{err: ErrNoData}, nil, 20, logging.Discard())
	_, err = g.Quote(context.Background(), btc)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGatewaySessionBars(t *testing.T) {
	now := time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC)
	start := market.SessionStart(now)
	prices := &stubPrices{bars: []market.Bar{
		{Time: start.Add(-2 * time.Minute), Close: 1},
		{Time: start, Close: 2},
		{Time: start.Add(time.Minute), Close: 3},
	}}
	g := NewGateway(prices, nil, 10, logging.Discard())

	bars, err := g.SessionBars(context.Background(), btc, now)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 91, prices.limit)

	prices.bars = prices.bars[:1]
	_, err = g.SessionBars(context.Background(), btc, now)
	assert.ErrorIs(t, err, ErrNoData)
}
