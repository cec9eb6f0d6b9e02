package indicators

// MACDResult holds the latest and previous-bar MACD readings.
type MACDResult struct {
	Line     float64 `json:"line"`
	Signal   float64 `json:"signal"`
	Hist     float64 `json:"hist"`
	PrevLine float64 `json:"prev_line"`
	PrevHist float64 `json:"prev_hist"`
	OK       bool    `json:"ok"`
}

// Bullish reports whether the MACD line is above its signal line.
func (m MACDResult) Bullish() bool {
	return m.OK && m.Line > m.Signal
}

// Rising reports whether the histogram increased on the last bar.
func (m MACDResult) Rising() bool {
	return m.OK && m.Hist > m.PrevHist
}

// MACD computes the fast/slow EMA difference, its signal EMA and the
// histogram. It needs slow+signal closes.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return MACDResult{}
	}

	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sig := EMASeries(line, signal)

	n := len(closes) - 1
	return MACDResult{
		Line:     line[n],
		Signal:   sig[n],
		Hist:     line[n] - sig[n],
		PrevLine: line[n-1],
		PrevHist: line[n-1] - sig[n-1],
		OK:       true,
	}
}
