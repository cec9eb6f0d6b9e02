package indicators

// Direction classifies a trend slope.
type Direction int

const (
	Flat Direction = iota
	Up
	Down
)

// TrendWindow is the number of closes the trend slope is fitted over.
const TrendWindow = 15

// TrendThreshold separates a sloped trend from a flat one.
const TrendThreshold = 0.02

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "flat"
	}
}

// Glyph is the arrow shown next to an instrument.
func (d Direction) Glyph() string {
	switch d {
	case Up:
		return "↑"
	case Down:
		return "↓"
	default:
		return "→"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TrendResult is the fitted slope and its classification.
type TrendResult struct {
	Slope     float64   `json:"slope"`
	Direction Direction `json:"direction"`
}

// Trend fits an ordinary least squares line through the last TrendWindow
// closes. Fewer closes read as Flat.
func Trend(closes []float64) TrendResult {
	if len(closes) < TrendWindow {
		return TrendResult{Direction: Flat}
	}
	y := tail(closes, TrendWindow)
	n := float64(TrendWindow)
	var sx, sy, sxy, sx2 float64
	for i, v := range y {
		x := float64(i)
		sx += x
		sy += v
		sxy += x * v
		sx2 += x * x
	}
	slope := (n*sxy - sx*sy) / (n*sx2 - sx*sx)

	dir := Flat
	switch {
	case slope > TrendThreshold:
		dir = Up
	case slope < -TrendThreshold:
		dir = Down
	}
	return TrendResult{Slope: slope, Direction: dir}
}
