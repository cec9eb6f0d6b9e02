package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// QuoteSource supplies the quotes a paper account fills against.
type QuoteSource interface {
	Quote(ctx context.Context, in market.Instrument) (market.Quote, error)
}

// Refresh pulls one quote per instrument into the engine. Instruments
// without a usable quote keep their previous one. It returns how many
// quotes were applied.
func (e *Engine) Refresh(ctx context.Context, src QuoteSource, instruments []market.Instrument, log *slog.Logger) int {
	n := 0
	for _, in := range instruments {
		q, err := src.Quote(ctx, in)
		if err != nil || !q.Valid() {
			log.Debug("sim quote unavailable", "symbol", in.Symbol, "error", err)
			continue
		}
		q.Symbol = in.Symbol
		for _, o := range e.UpdatePrice(q) {
			log.Info("sim order filled", "symbol", o.Symbol, "side", o.Side, "qty", o.FilledQty, "price", o.FilledAvgPrice)
		}
		n++
	}
	return n
}

// Follow refreshes quotes every interval until ctx ends.
func (e *Engine) Follow(ctx context.Context, src QuoteSource, instruments []market.Instrument, every time.Duration, log *slog.Logger) {
	log = log.With("component", "sim")
	e.Refresh(ctx, src, instruments, log)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Refresh(ctx, src, instruments, log)
		}
	}
}
