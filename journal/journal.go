// journal/journal.go
package journal

import "time"

// TradeRecord is one closed (or partially closed) position.
type TradeRecord struct {
	TradeID    string
	Symbol     string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Fees       float64
	Reason     string
	Preset     string
}

// Losing reports a realized loss after fees.
func (t TradeRecord) Losing() bool {
	return t.RealizedPL-t.Fees < 0
}

type EquitySnapshot struct {
	Time        time.Time
	Equity      float64
	LastEquity  float64
	Cash        float64
	BuyingPower float64
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
