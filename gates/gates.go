// Package gates turns an indicator snapshot into an entry decision: four
// boolean gates, two continuous checks, a 0-100 score and a watchlist flag.
package gates

import (
	"math"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// Benchmark is the regime context shared by every instrument in a scan.
type Benchmark struct {
	Symbol     string
	Trend      indicators.Direction
	EMAAligned bool
	Return     indicators.Value // over the relative-strength window
	Sigma      indicators.Value
}

// Input is everything the evaluator needs for one instrument.
type Input struct {
	Symbol    string
	Snap      indicators.Snapshot
	Quote     market.Quote
	RelReturn indicators.Value // instrument return over the relative-strength window
	Benchmark Benchmark
}

// Decision is the evaluator's verdict and its diagnostics.
type Decision struct {
	SlopeRising   bool    `json:"slope_rising"`
	VolOK         bool    `json:"vol_ok"`
	ZOK           bool    `json:"z_ok"`
	RegimeOK      bool    `json:"regime_ok"`
	Passed        int     `json:"passed"`
	GrossEdgeBps  float64 `json:"gross_edge_bps"`
	NetEdgeBps    float64 `json:"net_edge_bps"`
	SpreadBps     float64 `json:"spread_bps"`
	SpreadOK      bool    `json:"spread_ok"`
	RelStrengthOK bool    `json:"rel_strength_ok"`
	RelBps        float64 `json:"rel_bps"`
	Score         float64 `json:"score"`
	Bullish       bool    `json:"bullish"`
	Admit         bool    `json:"admit"`
	Watchlist     bool    `json:"watchlist"`
	Reason        string  `json:"reason,omitempty"`
}

// Evaluate applies the preset to one instrument. It never fails: missing
// indicators simply fail the gates that need them.
func Evaluate(in Input, p config.Preset) Decision {
	s := in.Snap
	var d Decision

	d.SlopeRising = s.MACD.Rising()
	d.VolOK = s.Sigma.OK && s.Sigma.V >= p.SigmaFloor
	d.ZOK = s.Z.OK && math.Abs(s.Z.V) >= p.ZFloor
	d.RegimeOK = !p.RegimeFilter || (in.Benchmark.Trend != indicators.Down && in.Benchmark.EMAAligned)
	for _, ok := range []bool{d.SlopeRising, d.VolOK, d.ZOK, d.RegimeOK} {
		if ok {
			d.Passed++
		}
	}

	d.GrossEdgeBps = GrossEdgeBps(s.ATR, s.Last, p)
	d.SpreadBps = in.Quote.SpreadBps()
	d.NetEdgeBps = d.GrossEdgeBps - p.RoundTripFeeBps() - d.SpreadBps - p.SlippageBps
	d.SpreadOK = SpreadOK(d.SpreadBps, d.NetEdgeBps, p)

	d.RelStrengthOK = true
	if p.RelStrength && in.Symbol != in.Benchmark.Symbol {
		d.RelStrengthOK = false
		if in.RelReturn.OK && in.Benchmark.Return.OK {
			d.RelBps = (in.RelReturn.V - in.Benchmark.Return.V) * 1e4
			d.RelStrengthOK = d.RelBps >= p.RelStrengthMinBps
		}
	}

	d.Score = Score(s)
	d.Bullish = s.MACD.Bullish()

	switch {
	case !s.MACD.OK:
		d.Reason = "macd unavailable"
	case !d.Bullish:
		d.Reason = "macd below signal"
	case !s.ATR.OK:
		// entries are sized off ATR
		d.Reason = "atr unavailable"
	case d.Score < p.MinScore:
		d.Reason = "score below minimum"
	case d.Passed < p.MinPassCount:
		d.Reason = "too few gates passed"
	case d.NetEdgeBps <= 0 || d.NetEdgeBps < p.MinEdgeBps:
		d.Reason = "edge after fees too small"
	case !d.SpreadOK:
		d.Reason = "spread too wide"
	case !d.RelStrengthOK:
		d.Reason = "weaker than benchmark"
	default:
		d.Admit = true
	}

	d.Watchlist = !d.Admit && (d.Bullish || (s.MACD.OK && s.MACD.Line > s.MACD.PrevLine))
	return d
}

// GrossEdgeBps is the expected move to take-profit: the tighter of the ATR
// target and the minimum-bps target. Without ATR there is no edge.
func GrossEdgeBps(atr indicators.Value, price float64, p config.Preset) float64 {
	if price <= 0 || !atr.OK || atr.V <= 0 {
		return 0
	}
	atrBps := atr.V * p.TPATRMult / price * 1e4
	return math.Min(atrBps, p.MinTPBps)
}

// SpreadOK allows twice the maximum spread when the net edge clears the
// override threshold.
func SpreadOK(spreadBps, netEdgeBps float64, p config.Preset) bool {
	if spreadBps <= p.MaxSpreadBps {
		return true
	}
	return netEdgeBps >= p.SpreadOverrideEdgeBps && spreadBps <= 2*p.MaxSpreadBps
}
