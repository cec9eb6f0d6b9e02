package indicators

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// VWAP is the volume-weighted typical price of every bar starting at or
// after anchor. It is recomputed from the bars each call.
func VWAP(bars []market.Bar, anchor time.Time) Value {
	var pv, vol float64
	for _, b := range market.Since(bars, anchor) {
		if b.Volume <= 0 {
			continue
		}
		pv += b.Typical() * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return Value{}
	}
	return valid(pv / vol)
}

// BelowVWAPRun counts how many of the most recent closes sit below vwap,
// stopping at the first close that does not.
func BelowVWAPRun(bars []market.Bar, vwap float64) int {
	n := 0
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Close >= vwap {
			break
		}
		n++
	}
	return n
}
