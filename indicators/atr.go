package indicators

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// ATR is the Average True Range over bars. The first value is the SMA of the
// first period true ranges; later ranges use Wilder smoothing. It needs
// period+1 bars.
func ATR(bars []market.Bar, period int) Value {
	if period <= 0 || len(bars) < period+1 {
		return Value{}
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	atr := sum / float64(period)

	p := float64(period)
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*(p-1) + trueRange(bars[i], bars[i-1])) / p
	}
	return valid(atr)
}

// trueRange calculates the True Range for a bar given the previous bar
func trueRange(current, previous market.Bar) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)

	return math.Max(highLow, math.Max(highClose, lowClose))
}
