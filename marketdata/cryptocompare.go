package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/retry"
)

// CryptoCompareURL is the public min-api endpoint.
const CryptoCompareURL = "https://min-api.cryptocompare.com"

// MaxHistoLimit is the most bars one histo call returns.
const MaxHistoLimit = 2000

// CryptoCompare fetches spot prices and OHLCV history.
type CryptoCompare struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
}

// NewCryptoCompare creates a client. An empty baseURL uses CryptoCompareURL.
func NewCryptoCompare(baseURL, apiKey string, policy retry.Policy) *CryptoCompare {
	if baseURL == "" {
		baseURL = CryptoCompareURL
	}
	return &CryptoCompare{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		policy:     policy,
	}
}

func (c *CryptoCompare) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Apikey "+c.apiKey)
	}
	return h
}

// Price returns the USD spot price for a data alias such as "BTC".
func (c *CryptoCompare) Price(ctx context.Context, alias string) (float64, error) {
	q := url.Values{}
	q.Set("fsym", alias)
	q.Set("tsyms", "USD")
	u := c.baseURL + "/data/price?" + q.Encode()

	return retry.Do(ctx, c.policy, func(ctx context.Context) (float64, error) {
		var body map[string]any
		if err := getJSON(ctx, c.httpClient, u, c.header(), &body); err != nil {
			return 0, err
		}
		p, ok := body["USD"].(float64)
		if !ok || p <= 0 {
			if msg, _ := body["Message"].(string); msg != "" {
				return 0, fmt.Errorf("price %s: %w: %s", alias, ErrNoData, msg)
			}
			return 0, fmt.Errorf("price %s: %w", alias, ErrNoData)
		}
		return p, nil
	})
}

type histoBar struct {
	Time       int64   `json:"time"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Open       float64 `json:"open"`
	VolumeFrom float64 `json:"volumefrom"`
	VolumeTo   float64 `json:"volumeto"`
	Close      float64 `json:"close"`
}

type histoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []histoBar `json:"Data"`
	} `json:"Data"`
}

// endpoint maps a timeframe to a histo path and aggregate.
func endpoint(tf market.Timeframe) (string, int, error) {
	d := tf.Duration()
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return "/data/v2/histohour", int(d / time.Hour), nil
	case d >= time.Minute && d%time.Minute == 0:
		return "/data/v2/histominute", int(d / time.Minute), nil
	}
	return "", 0, fmt.Errorf("unsupported timeframe %s", tf)
}

// Bars returns up to limit bars for alias, oldest first. Bars with a zero
// close are dropped.
func (c *CryptoCompare) Bars(ctx context.Context, alias string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	path, agg, err := endpoint(tf)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxHistoLimit {
		limit = MaxHistoLimit
	}
	q := url.Values{}
	q.Set("fsym", alias)
	q.Set("tsym", "USD")
	q.Set("limit", strconv.Itoa(limit))
	if agg > 1 {
		q.Set("aggregate", strconv.Itoa(agg))
	}
	u := c.baseURL + path + "?" + q.Encode()

	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]market.Bar, error) {
		var resp histoResponse
		if err := getJSON(ctx, c.httpClient, u, c.header(), &resp); err != nil {
			return nil, err
		}
		if resp.Response != "" && resp.Response != "Success" {
			return nil, fmt.Errorf("bars %s: %w: %s", alias, ErrNoData, resp.Message)
		}
		bars := make([]market.Bar, 0, len(resp.Data.Data))
		for _, hb := range resp.Data.Data {
			if hb.Close <= 0 {
				continue
			}
			bars = append(bars, market.Bar{
				Time:   time.Unix(hb.Time, 0).UTC(),
				Open:   hb.Open,
				High:   hb.High,
				Low:    hb.Low,
				Close:  hb.Close,
				Volume: hb.VolumeFrom,
			})
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("bars %s: %w", alias, ErrNoData)
		}
		return bars, nil
	})
}
