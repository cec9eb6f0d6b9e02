package risk

import "math"

// PlannedRisk is the dollar loss of qty units stopped out below entry.
// A stop at or above entry carries no risk.
func PlannedRisk(qty, entry, stop float64) float64 {
	if qty <= 0 || stop >= entry {
		return 0
	}
	return qty * (entry - stop)
}

// RR is the long-side reward to risk: target gain over stop distance.
// Zero when either side is not positive.
func RR(entry, stop, target float64) float64 {
	risk, reward := entry-stop, target-entry
	if risk <= 0 || reward <= 0 {
		return 0
	}
	return reward / risk
}

// EquityFraction is planned risk as a fraction of equity.
func EquityFraction(planned, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return planned / equity
}
