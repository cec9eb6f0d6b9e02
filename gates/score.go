package gates

import "github.com/rustyeddy/autotrader/indicators"

// Score blends slope (40), trend (30) and RSI context (30) into 0-100.
func Score(s indicators.Snapshot) float64 {
	score := 0.0

	if s.MACD.Bullish() {
		score += 20
	}
	if s.MACD.Rising() {
		score += 20
	}

	switch s.Trend.Direction {
	case indicators.Up:
		score += 20
	case indicators.Flat:
		score += 10
	}
	if s.EMAAligned {
		score += 10
	}

	if s.RSI.OK {
		score += RSIContext(s.RSI.V)
	}
	return score
}

// RSIContext is 30 inside 45-60, tapering linearly to 0 at 25 and 80.
func RSIContext(rsi float64) float64 {
	switch {
	case rsi >= 45 && rsi <= 60:
		return 30
	case rsi > 25 && rsi < 45:
		return 30 * (rsi - 25) / 20
	case rsi > 60 && rsi < 80:
		return 30 * (80 - rsi) / 20
	}
	return 0
}
