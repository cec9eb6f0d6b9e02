package indicators

import "math"

// Volatility is the sample standard deviation of log returns over the last
// window returns.
func Volatility(closes []float64, window int) Value {
	if window < 2 || len(closes) < window+1 {
		return Value{}
	}
	c := tail(closes, window+1)
	rets := make([]float64, 0, window)
	for i := 1; i < len(c); i++ {
		if c[i-1] <= 0 || c[i] <= 0 {
			return Value{}
		}
		rets = append(rets, math.Log(c[i]/c[i-1]))
	}
	m := mean(rets)
	ss := 0.0
	for _, r := range rets {
		ss += (r - m) * (r - m)
	}
	return valid(math.Sqrt(ss / float64(len(rets)-1)))
}

// ZScore is the last value's distance from the mean of the last window
// values in population standard deviations. It is 0 when they do not vary.
func ZScore(values []float64, window int) Value {
	if window < 2 || len(values) < window {
		return Value{}
	}
	w := tail(values, window)
	m := mean(w)
	ss := 0.0
	for _, v := range w {
		ss += (v - m) * (v - m)
	}
	sd := math.Sqrt(ss / float64(len(w)))
	if sd == 0 {
		return valid(0)
	}
	return valid((w[len(w)-1] - m) / sd)
}

// Returns converts closes into simple one-bar returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// ReturnZScore is the z-score of the latest one-bar return against the last
// window returns.
func ReturnZScore(closes []float64, window int) Value {
	if len(closes) < window+1 {
		return Value{}
	}
	return ZScore(Returns(closes), window)
}

// Return is the simple return over the last n bars.
func Return(closes []float64, n int) Value {
	if n <= 0 || len(closes) < n+1 {
		return Value{}
	}
	base := closes[len(closes)-1-n]
	if base <= 0 {
		return Value{}
	}
	return valid(closes[len(closes)-1]/base - 1)
}
