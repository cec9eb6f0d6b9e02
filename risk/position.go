// Package risk sizes entries so a stop-out at entry - stopMult×ATR loses a
// fixed fraction of equity, then clips the notional to the account's caps.
package risk

import (
	"github.com/shopspring/decimal"
)

// BuyingPowerCushion leaves room for fees and price movement between sizing
// and fill.
const BuyingPowerCushion = 0.998

type Inputs struct {
	Equity        float64
	BuyingPower   float64 // non-marginable or margin, per preset
	Price         float64 // expected entry price
	ATR           float64
	RiskFraction  float64 // 0.0025
	StopATRMult   float64
	MaxEquityPct  float64
	MaxNotional   float64  // per-process ceiling, 0 = none
	InstrumentCap *float64 // per-instrument ceiling, nil = none, 0 = disabled
	MinNotional   float64
	Target        float64 // expected take-profit, 0 = unknown
}

// Cap names a constraint that reduced the notional.
type Cap string

const (
	CapEquityPct   Cap = "equity_pct"
	CapBuyingPower Cap = "buying_power"
	CapProcess     Cap = "process_max"
	CapInstrument  Cap = "instrument_max"
)

type Result struct {
	RawQty      float64
	RawNotional float64
	Notional    float64 // floored to cents
	Qty         float64 // floored to 1e-6
	Stop        float64
	RiskAmount  float64
	PlannedRisk float64 // loss at the stop for the final qty
	RiskPct     float64 // PlannedRisk over equity
	RR          float64 // reward to risk against Target, 0 = unknown
	CappedBy    []Cap
	Skip        bool
	Reason      string
}

// Calculate sizes one entry. A result below MinNotional is skipped rather
// than partially executed.
func Calculate(in Inputs) Result {
	var r Result
	if in.InstrumentCap != nil && *in.InstrumentCap <= 0 {
		r.Skip, r.Reason = true, "instrument disabled"
		return r
	}
	if in.Price <= 0 || in.ATR <= 0 || in.StopATRMult <= 0 {
		r.Skip, r.Reason = true, "no price or atr"
		return r
	}

	r.RiskAmount = in.Equity * in.RiskFraction
	stopDist := in.ATR * in.StopATRMult
	r.Stop = in.Price - stopDist
	r.RawQty = r.RiskAmount / stopDist
	r.RawNotional = r.RawQty * in.Price

	notional := r.RawNotional
	clip := func(limit float64, c Cap) {
		if notional > limit {
			notional = limit
			r.CappedBy = append(r.CappedBy, c)
		}
	}
	clip(in.MaxEquityPct*in.Equity, CapEquityPct)
	clip(in.BuyingPower*BuyingPowerCushion, CapBuyingPower)
	if in.MaxNotional > 0 {
		clip(in.MaxNotional, CapProcess)
	}
	if in.InstrumentCap != nil {
		clip(*in.InstrumentCap, CapInstrument)
	}

	n := decimal.NewFromFloat(notional).Truncate(2)
	if n.LessThan(decimal.NewFromFloat(in.MinNotional)) {
		r.Skip, r.Reason = true, "below minimum notional"
		return r
	}
	r.Notional, _ = n.Float64()
	r.Qty, _ = n.Div(decimal.NewFromFloat(in.Price)).Truncate(6).Float64()
	if r.Qty <= 0 {
		r.Skip, r.Reason = true, "quantity rounds to zero"
		return r
	}
	r.PlannedRisk = PlannedRisk(r.Qty, in.Price, r.Stop)
	r.RiskPct = EquityFraction(r.PlannedRisk, in.Equity)
	if in.Target > 0 {
		r.RR = RR(in.Price, r.Stop, in.Target)
	}
	return r
}
