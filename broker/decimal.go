package broker

import "github.com/shopspring/decimal"

// QtyDecimals is the quantity precision crypto orders accept.
const QtyDecimals = 6

// FloorQty truncates q to QtyDecimals places.
func FloorQty(q float64) float64 {
	f, _ := decimal.NewFromFloat(q).Truncate(QtyDecimals).Float64()
	return f
}

// FormatQty renders q for the wire without float noise.
func FormatQty(q float64) string {
	return decimal.NewFromFloat(q).Truncate(QtyDecimals).String()
}

// PriceDecimals picks a tick precision suited to the price level.
func PriceDecimals(p float64) int32 {
	switch {
	case p >= 1:
		return 2
	case p >= 0.01:
		return 6
	default:
		return 9
	}
}

// RoundPrice rounds p to its tick precision.
func RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(PriceDecimals(p)).Float64()
	return f
}

// FormatPrice renders p at its tick precision.
func FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(PriceDecimals(p)).String()
}

// FloorCents truncates a dollar amount to whole cents.
func FloorCents(usd float64) float64 {
	f, _ := decimal.NewFromFloat(usd).Truncate(2).Float64()
	return f
}

// FormatCents renders a dollar amount with two decimals.
func FormatCents(usd float64) string {
	return decimal.NewFromFloat(usd).Truncate(2).StringFixed(2)
}
