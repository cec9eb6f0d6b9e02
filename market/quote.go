package market

import "time"

// Quote is the best bid/ask for an instrument. Synthetic quotes are derived
// from a spot price and an assumed spread when the venue has none.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Time      time.Time `json:"time"`
	Synthetic bool      `json:"synthetic"`
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// SpreadBps is the spread in basis points of the mid.
func (q Quote) SpreadBps() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / mid * 1e4
}

// Valid reports whether both sides are positive and uncrossed.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}

// SyntheticQuote centers an assumed spread (bps) on price.
func SyntheticQuote(symbol string, price, spreadBps float64, at time.Time) Quote {
	half := price * spreadBps / 2 / 1e4
	return Quote{
		Symbol:    symbol,
		Bid:       price - half,
		Ask:       price + half,
		Time:      at,
		Synthetic: true,
	}
}
