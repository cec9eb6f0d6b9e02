package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"BTCUSD", "BTC/USD"},
		{"btc/usd", "BTC/USD"},
		{"ETH-USD", "ETH/USD"},
		{" doge/usd ", "DOGE/USD"},
		{"USD", "USD"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSymbol(tt.in), tt.in)
	}
}

func TestUniverse(t *testing.T) {
	t.Parallel()

	zero := 0.0
	u, err := NewUniverse([]Instrument{
		{Symbol: "BTCUSD", DataAlias: "BTC"},
		{Symbol: "USDT/USD", MaxNotional: &zero},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, u.Len())

	btc, ok := u.Lookup("btc/usd")
	require.True(t, ok)
	assert.Equal(t, "BTC/USD", btc.Symbol)
	assert.Equal(t, "BTC/USD", btc.Name)
	assert.Equal(t, "BTC", btc.Alias())
	assert.False(t, btc.Disabled())

	usdt, ok := u.Lookup("USDTUSD")
	require.True(t, ok)
	assert.True(t, usdt.Disabled())
	assert.Equal(t, "USDT", usdt.Alias())

	_, err = NewUniverse([]Instrument{{Symbol: "BTC/USD"}, {Symbol: "BTCUSD"}})
	assert.Error(t, err)
}

func TestDefaultInstruments(t *testing.T) {
	t.Parallel()

	u, err := NewUniverse(DefaultInstruments())
	require.NoError(t, err)
	assert.Equal(t, 18, u.Len())
	_, ok := u.Lookup("MKR/USD")
	assert.True(t, ok)
}

func TestQuote(t *testing.T) {
	t.Parallel()

	q := Quote{Bid: 99.95, Ask: 100.05}
	assert.InDelta(t, 100.0, q.Mid(), 1e-9)
	assert.InDelta(t, 10.0, q.SpreadBps(), 1e-6)
	assert.True(t, q.Valid())

	s := SyntheticQuote("BTC/USD", 100, 20, time.Unix(0, 0))
	assert.True(t, s.Synthetic)
	assert.InDelta(t, 99.9, s.Bid, 1e-9)
	assert.InDelta(t, 100.1, s.Ask, 1e-9)
	assert.False(t, Quote{Bid: 2, Ask: 1}.Valid())
}

func TestSessionAndSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 5, 13, 7, 0, 0, time.UTC)
	start := SessionStart(now)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), start)

	bars := []Bar{
		{Time: start.Add(-time.Minute), Close: 1},
		{Time: start, Close: 2},
		{Time: start.Add(time.Minute), Close: 3},
	}
	got := Since(bars, start)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Nil(t, Since(bars, start.Add(time.Hour)))

	assert.Equal(t, []float64{1, 2, 3}, Closes(bars))
}
