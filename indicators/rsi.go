package indicators

// RSI is Wilder's relative strength index over closes.
//
// A series with gains and no losses reads 100; a series with no movement
// at all reads 50.
func RSI(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period+1 {
		return Value{}
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
	}

	switch {
	case avgLoss == 0 && avgGain == 0:
		return valid(50)
	case avgLoss == 0:
		return valid(100)
	}
	rs := avgGain / avgLoss
	return valid(100 - 100/(1+rs))
}
