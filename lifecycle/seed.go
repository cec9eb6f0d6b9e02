// Package lifecycle drives a position from entry order to exit: fill
// confirmation, trade state seeding, take-profit upkeep and the ordered
// exit checks run on every exit tick.
package lifecycle

import (
	"math"
	"time"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/ledger"
)

// TPQtyHaircut is held back from the take-profit order so rounding on the
// brokerage side never leaves it short of quantity.
const TPQtyHaircut = 0.001

func bps(x float64) float64 { return x / 1e4 }

// Breakeven is the entry price plus round-trip fees.
func Breakeven(entry float64, p config.Preset) float64 {
	return entry * (1 + bps(p.RoundTripFeeBps()))
}

// FeeFloor is the lowest take-profit price: round-trip fees, slippage and
// the minimum edge over entry.
func FeeFloor(entry float64, p config.Preset) float64 {
	return entry * (1 + bps(p.RoundTripFeeBps()+p.SlippageBps+p.EdgeBps))
}

// PartialTrigger is the mark at which the partial take-profit fires.
func PartialTrigger(entry float64, p config.Preset) float64 {
	return entry * (1 + bps(p.RoundTripFeeBps()+p.EdgeBps))
}

// InitialTP is the tighter of the ATR target and the minimum-bps target,
// never below the fee floor.
func InitialTP(entry, atr float64, p config.Preset) float64 {
	tp := entry * (1 + bps(p.MinTPBps))
	if atr > 0 {
		tp = math.Min(tp, entry+p.TPATRMult*atr)
	}
	return math.Max(tp, FeeFloor(entry, p))
}

// DecayedTP moves the target linearly from the initial TP to the fee floor
// between TPDecayStart and TPDecayFull of holding time.
func DecayedTP(st ledger.TradeState, p config.Preset, held time.Duration) float64 {
	switch {
	case held <= p.TPDecayStart:
		return math.Max(st.InitialTP, st.FeeFloor)
	case held >= p.TPDecayFull || p.TPDecayFull <= p.TPDecayStart:
		return st.FeeFloor
	}
	frac := float64(held-p.TPDecayStart) / float64(p.TPDecayFull-p.TPDecayStart)
	tp := st.InitialTP - frac*(st.InitialTP-st.FeeFloor)
	return math.Max(tp, st.FeeFloor)
}

// Seed builds the trade state for a freshly filled (or adopted) position.
func Seed(tradeID, symbol string, entry, qty, atr float64, at time.Time, p config.Preset) ledger.TradeState {
	stop := 0.0
	if atr > 0 {
		stop = math.Max(entry-p.StopATRMult*atr, 0)
	}
	tp := InitialTP(entry, atr, p)
	return ledger.TradeState{
		TradeID:    tradeID,
		Symbol:     symbol,
		Phase:      ledger.NoPosition,
		EntryPrice: entry,
		Qty:        qty,
		ATR:        atr,
		EntryTime:  at,
		Peak:       entry,
		Stop:       stop,
		TakeProfit: tp,
		InitialTP:  tp,
		FeeFloor:   FeeFloor(entry, p),
	}
}
