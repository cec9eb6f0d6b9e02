package market

import "time"

// Bar is one OHLCV bucket. Slices of bars are ordered oldest first.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Typical returns (high+low+close)/3.
func (b Bar) Typical() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Closes extracts the close series, skipping non-positive closes.
func Closes(bars []Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			out = append(out, b.Close)
		}
	}
	return out
}

// Since returns the suffix of bars whose bucket starts at or after t.
func Since(bars []Bar, t time.Time) []Bar {
	for i, b := range bars {
		if !b.Time.Before(t) {
			return bars[i:]
		}
	}
	return nil
}

// SessionStart is the UTC midnight that anchors the trading session
// containing t.
func SessionStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Timeframe is a bar granularity.
type Timeframe time.Duration

const (
	M1  = Timeframe(time.Minute)
	M5  = Timeframe(5 * time.Minute)
	M15 = Timeframe(15 * time.Minute)
	H1  = Timeframe(time.Hour)
)

func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) }

func (tf Timeframe) String() string { return time.Duration(tf).String() }
