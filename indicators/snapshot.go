package indicators

import "github.com/rustyeddy/autotrader/market"

// Params are the lookbacks used by Compute.
type Params struct {
	RSIPeriod   int `yaml:"rsi_period" json:"rsi_period"`
	MACDFast    int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow    int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal  int `yaml:"macd_signal" json:"macd_signal"`
	ATRPeriod   int `yaml:"atr_period" json:"atr_period"`
	VolWindow   int `yaml:"vol_window" json:"vol_window"`
	ZWindow     int `yaml:"z_window" json:"z_window"`
	EMAFast     int `yaml:"ema_fast" json:"ema_fast"`
	EMASlow     int `yaml:"ema_slow" json:"ema_slow"`
	ImpulseBars int `yaml:"impulse_bars" json:"impulse_bars"`
}

// DefaultParams are the conventional lookbacks.
func DefaultParams() Params {
	return Params{
		RSIPeriod:   14,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
		ATRPeriod:   14,
		VolWindow:   20,
		ZWindow:     20,
		EMAFast:     9,
		EMASlow:     21,
		ImpulseBars: 3,
	}
}

// Snapshot is every indicator for one instrument at one point in time.
type Snapshot struct {
	Last       float64     `json:"last"`
	RSI        Value       `json:"rsi"`
	MACD       MACDResult  `json:"macd"`
	ATR        Value       `json:"atr"`
	Sigma      Value       `json:"sigma"`
	Z          Value       `json:"z"`
	VWAP       Value       `json:"vwap"`
	Trend      TrendResult `json:"trend"`
	EMAAligned bool        `json:"ema_aligned"`
	Return     Value       `json:"return"`
	Closes     int         `json:"closes"`
}

// Compute builds a Snapshot from bars ordered oldest first. VWAP is
// anchored at the session start of the last bar.
func Compute(bars []market.Bar, p Params) Snapshot {
	closes := market.Closes(bars)
	s := Snapshot{Closes: len(closes)}
	if len(closes) == 0 {
		return s
	}
	s.Last = closes[len(closes)-1]
	s.RSI = RSI(closes, p.RSIPeriod)
	s.MACD = MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	s.ATR = ATR(bars, p.ATRPeriod)
	s.Sigma = Volatility(closes, p.VolWindow)
	s.Z = ReturnZScore(closes, p.ZWindow)
	s.VWAP = VWAP(bars, market.SessionStart(bars[len(bars)-1].Time))
	s.Trend = Trend(closes)
	s.EMAAligned = EMAAligned(closes, p.EMAFast, p.EMASlow)
	s.Return = Return(closes, p.ImpulseBars)
	return s
}
