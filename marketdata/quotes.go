package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/retry"
)

// AlpacaDataURL is the Alpaca market data host.
const AlpacaDataURL = "https://data.alpaca.markets"

// AlpacaQuotes reads the latest crypto quotes.
type AlpacaQuotes struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
	policy     retry.Policy
}

func NewAlpacaQuotes(baseURL, keyID, secret string, policy retry.Policy) *AlpacaQuotes {
	if baseURL == "" {
		baseURL = AlpacaDataURL
	}
	return &AlpacaQuotes{
		baseURL:    baseURL,
		keyID:      keyID,
		secret:     secret,
		httpClient: &http.Client{},
		policy:     policy,
	}
}

type latestQuote struct {
	Ask     float64   `json:"ap"`
	AskSize float64   `json:"as"`
	Bid     float64   `json:"bp"`
	BidSize float64   `json:"bs"`
	Time    time.Time `json:"t"`
}

type latestQuotesResponse struct {
	Quotes map[string]latestQuote `json:"quotes"`
}

// Quote returns the latest bid/ask for a brokerage symbol such as "BTC/USD".
func (a *AlpacaQuotes) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	u := a.baseURL + "/v1beta3/crypto/us/latest/quotes?" + q.Encode()

	h := http.Header{}
	if a.keyID != "" {
		h.Set("APCA-API-KEY-ID", a.keyID)
		h.Set("APCA-API-SECRET-KEY", a.secret)
	}

	return retry.Do(ctx, a.policy, func(ctx context.Context) (market.Quote, error) {
		var resp latestQuotesResponse
		if err := getJSON(ctx, a.httpClient, u, h, &resp); err != nil {
			return market.Quote{}, err
		}
		lq, ok := resp.Quotes[symbol]
		if !ok {
			return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, ErrNoData)
		}
		out := market.Quote{Symbol: symbol, Bid: lq.Bid, Ask: lq.Ask, Time: lq.Time}
		if !out.Valid() {
			return market.Quote{}, fmt.Errorf("quote %s: %w: bid %v ask %v", symbol, ErrNoData, lq.Bid, lq.Ask)
		}
		return out, nil
	})
}
