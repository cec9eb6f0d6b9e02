package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/market"
)

// PositionView pairs a brokerage position with the ledger's view of it.
type PositionView struct {
	broker.Position
	Trade *ledger.TradeState `json:"trade,omitempty"`
}

// Portfolio is the account summary shown to the operator.
type Portfolio struct {
	Time           time.Time      `json:"time"`
	Equity         float64        `json:"equity"`
	LastEquity     float64        `json:"last_equity"`
	DailyChange    float64        `json:"daily_change"`
	DailyChangePct float64        `json:"daily_change_pct"`
	Cash           float64        `json:"cash"`
	BuyingPower    float64        `json:"buying_power"`
	Blocked        string         `json:"blocked,omitempty"`
	Positions      []PositionView `json:"positions"`
}

// PortfolioSummary reads the account and its positions.
func (e *Engine) PortfolioSummary(ctx context.Context) (Portfolio, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return Portfolio{}, fmt.Errorf("get account: %w", err)
	}
	positions, err := e.broker.ListPositions(ctx)
	if err != nil {
		return Portfolio{}, fmt.Errorf("list positions: %w", err)
	}

	p := Portfolio{
		Time:        e.now(),
		Equity:      acct.Equity,
		LastEquity:  acct.LastEquity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		Positions:   make([]PositionView, 0, len(positions)),
	}
	if why, blocked := acct.Blocked(); blocked {
		p.Blocked = why
	}
	if acct.LastEquity > 0 {
		p.DailyChange = acct.Equity - acct.LastEquity
		p.DailyChangePct = p.DailyChange / acct.LastEquity * 100
	}
	for _, pos := range positions {
		v := PositionView{Position: pos}
		if st, ok := e.ledger.Get(pos.Symbol); ok {
			v.Trade = &st
		}
		p.Positions = append(p.Positions, v)
	}
	return p, nil
}

// Summarizer is implemented by journals that can aggregate closed trades.
type Summarizer interface {
	Summarize(start, end time.Time) (journal.Summary, error)
}

// PnL is realized profit and fees since UTC midnight.
type PnL struct {
	Since          time.Time       `json:"since"`
	Trades         journal.Summary `json:"trades"`
	Net            float64         `json:"net"`
	Fills          int             `json:"fills"`
	BoughtNotional float64         `json:"bought_notional"`
	SoldNotional   float64         `json:"sold_notional"`
	FillFees       float64         `json:"fill_fees"`
}

// PnLToday combines the journal's closed trades with the brokerage's fill
// activity for the current UTC day. Either source may be missing.
func (e *Engine) PnLToday(ctx context.Context) (PnL, error) {
	now := e.now()
	out := PnL{Since: market.SessionStart(now)}

	if s, ok := e.journal.(Summarizer); ok {
		sum, err := s.Summarize(out.Since, now.Add(time.Nanosecond))
		if err != nil {
			return PnL{}, fmt.Errorf("summarize trades: %w", err)
		}
		out.Trades = sum
		out.Net = sum.RealizedPL - sum.Fees
	}

	fills, err := e.broker.ListFills(ctx, out.Since)
	if err != nil {
		e.log.Warn("fills unavailable", "error", err)
		return out, nil
	}
	for _, f := range fills {
		out.Fills++
		out.FillFees += f.Fee
		switch f.Side {
		case broker.Buy:
			out.BoughtNotional += f.Notional()
		case broker.Sell:
			out.SoldNotional += f.Notional()
		}
	}
	return out, nil
}
