package indicators

// SMA returns the simple average of the last period values.
func SMA(values []float64, period int) Value {
	if period <= 0 || len(values) < period {
		return Value{}
	}
	return valid(mean(tail(values, period)))
}

// EMASeries returns the exponential moving average of values, seeded with
// the first value, one output per input.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// EMA returns the last value of EMASeries. It needs at least period values.
func EMA(values []float64, period int) Value {
	if period <= 0 || len(values) < period {
		return Value{}
	}
	s := EMASeries(values, period)
	return valid(s[len(s)-1])
}

// EMAAligned reports whether the fast EMA is above the slow EMA. Unavailable
// EMAs are never aligned.
func EMAAligned(closes []float64, fast, slow int) bool {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	return f.OK && s.OK && f.V > s.V
}
