// Package marketdata fetches spot prices, OHLCV bars and quotes. Every call
// carries a per-attempt timeout and retries transient failures with
// exponential backoff. Payloads without usable data surface as ErrNoData.
package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// PriceSource supplies spot prices and history keyed by data alias.
type PriceSource interface {
	Price(ctx context.Context, alias string) (float64, error)
	Bars(ctx context.Context, alias string, tf market.Timeframe, limit int) ([]market.Bar, error)
}

// QuoteSource supplies bid/ask keyed by brokerage symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// Gateway combines a price source with an optional quote source. Missing or
// unusable quotes fall back to a synthetic quote around the spot price.
type Gateway struct {
	prices    PriceSource
	quotes    QuoteSource
	spreadBps float64
	log       *slog.Logger
	now       func() time.Time
}

func NewGateway(prices PriceSource, quotes QuoteSource, syntheticSpreadBps float64, log *slog.Logger) *Gateway {
	return &Gateway{
		prices:    prices,
		quotes:    quotes,
		spreadBps: syntheticSpreadBps,
		log:       log.With("component", "marketdata"),
		now:       time.Now,
	}
}

func (g *Gateway) Price(ctx context.Context, in market.Instrument) (float64, error) {
	return g.prices.Price(ctx, in.Alias())
}

func (g *Gateway) Bars(ctx context.Context, in market.Instrument, tf market.Timeframe, limit int) ([]market.Bar, error) {
	return g.prices.Bars(ctx, in.Alias(), tf, limit)
}

// SessionBars returns the minute bars since the UTC midnight before now.
func (g *Gateway) SessionBars(ctx context.Context, in market.Instrument, now time.Time) ([]market.Bar, error) {
	start := market.SessionStart(now)
	n := int(now.Sub(start)/time.Minute) + 1
	if n > MaxHistoLimit {
		n = MaxHistoLimit
	}
	bars, err := g.prices.Bars(ctx, in.Alias(), market.M1, n)
	if err != nil {
		return nil, err
	}
	session := market.Since(bars, start)
	if len(session) == 0 {
		return nil, ErrNoData
	}
	return session, nil
}

// Quote returns the venue quote, or a synthetic one derived from the spot
// price when the venue has none.
func (g *Gateway) Quote(ctx context.Context, in market.Instrument) (market.Quote, error) {
	if g.quotes != nil {
		q, err := g.quotes.Quote(ctx, in.Symbol)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return market.Quote{}, err
		}
		level := slog.LevelDebug
		if !errors.Is(err, ErrNoData) {
			level = slog.LevelWarn
		}
		g.log.Log(ctx, level, "quote unavailable, using synthetic", "symbol", in.Symbol, "error", err)
	}
	price, err := g.Price(ctx, in)
	if err != nil {
		return market.Quote{}, err
	}
	return market.SyntheticQuote(in.Symbol, price, g.spreadBps, g.now()), nil
}
