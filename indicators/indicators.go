// Package indicators computes technical indicators over bar and close
// series. Every function is pure. Short history never fails: it yields a
// Value whose OK flag is false, which callers treat as "signal unavailable".
package indicators

import "math"

// Value is a single indicator reading.
type Value struct {
	V  float64 `json:"v"`
	OK bool    `json:"ok"`
}

func valid(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, OK: true}
}

// Or returns the reading, or def when it is unavailable.
func (v Value) Or(def float64) float64 {
	if !v.OK {
		return def
	}
	return v.V
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func tail(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}
