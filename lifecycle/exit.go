package lifecycle

import (
	"math"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/ledger"
)

// Exit reasons.
const (
	ReasonTakeProfit = "take_profit"
	ReasonPartial    = "partial"
	ReasonFastWrong  = "fast_wrong"
	ReasonVWAP       = "vwap"
	ReasonMaxHold    = "max_hold"
	ReasonTimeStop   = "time_stop"
	ReasonStop       = "stop"
	ReasonKillSwitch = "kill_switch"
	ReasonManual     = "manual"
	ReasonExternal   = "external_close"
)

type Kind int

const (
	Hold Kind = iota
	Partial
	Full
)

func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return "hold"
}

// Inputs are the market observations for one exit tick.
type Inputs struct {
	Mark        float64
	ATR1m       indicators.Value
	EMAInverted bool
	VWAP        indicators.Value
	LastClose   float64
	BarTime     time.Time
}

// Action is the outcome of one exit evaluation. State carries the updated
// peak, stop, target and VWAP counter whatever the Kind.
type Action struct {
	Kind       Kind
	Reason     string
	PartialQty float64
	RefreshTP  bool
	StopRaised bool
	State      ledger.TradeState
}

func full(a Action, reason string) Action {
	a.Kind = Full
	a.Reason = reason
	return a
}

// Evaluate runs the exit checks in priority order: take-profit decay and
// refresh, stop ratchet, partial take-profit, fast-wrong, VWAP, time exits
// and finally the stop itself.
func Evaluate(st ledger.TradeState, in Inputs, p config.Preset, now time.Time) Action {
	a := Action{State: st}
	s := &a.State
	held := now.Sub(s.EntryTime)
	be := Breakeven(s.EntryPrice, p)

	if in.Mark > s.Peak {
		s.Peak = in.Mark
	}
	if in.VWAP.OK && !in.BarTime.IsZero() && in.BarTime.After(s.LastBarTime) {
		s.LastBarTime = in.BarTime
		if in.LastClose < in.VWAP.V {
			s.BelowVWAP++
		} else {
			s.BelowVWAP = 0
		}
	}

	// 1. take profit
	s.TakeProfit = DecayedTP(*s, p, held)
	a.RefreshTP = needsRefresh(*s, p, now)

	// 2. stop ratchet
	if !s.BreakevenArmed && s.ATR > 0 && s.Peak-s.EntryPrice >= p.BreakevenATRMult*s.ATR {
		s.BreakevenArmed = true
	}
	if s.BreakevenArmed {
		next := math.Max(s.Stop, be)
		if s.ATR > 0 && p.TrailATRMult > 0 {
			next = math.Max(next, s.Peak-p.TrailATRMult*s.ATR)
		}
		if next > s.Stop {
			s.Stop = next
			a.StopRaised = true
		}
	}

	// 3. partial, never when the mark is already through the stop
	breached := s.Stop > 0 && in.Mark > 0 && in.Mark <= s.Stop
	if p.PartialExit && !s.PartialDone && !breached && s.Phase == ledger.Open && in.Mark >= PartialTrigger(s.EntryPrice, p) {
		qty := broker.FloorQty(s.Qty * p.PartialFraction)
		if qty > 0 && qty < s.Qty {
			a.Kind = Partial
			a.Reason = ReasonPartial
			a.PartialQty = qty
			s.BreakevenArmed = true
			if be > s.Stop {
				s.Stop = be
				a.StopRaised = true
			}
			return a
		}
	}

	lossBps := 0.0
	if s.EntryPrice > 0 {
		lossBps = (s.EntryPrice - in.Mark) / s.EntryPrice * 1e4
	}

	// 4. fast wrong
	if !s.Adopted && p.FastWrongWindow > 0 && held <= p.FastWrongWindow {
		if in.EMAInverted && lossBps >= p.FastWrongLossBps {
			return full(a, ReasonFastWrong)
		}
		if in.ATR1m.OK && in.ATR1m.V > 0 && s.EntryPrice-in.Mark > p.FastWrongATRMult*in.ATR1m.V {
			return full(a, ReasonFastWrong)
		}
	}

	// 5. vwap
	if p.VWAPExit && p.VWAPExitBars > 0 && s.BelowVWAP >= p.VWAPExitBars && lossBps <= p.RoundTripFeeBps() {
		return full(a, ReasonVWAP)
	}

	// 6. time
	if p.MaxHold > 0 && held >= p.MaxHold {
		return full(a, ReasonMaxHold)
	}
	if p.TimeStop > 0 && held >= p.TimeStop && in.Mark >= be {
		return full(a, ReasonTimeStop)
	}

	// 7. stop
	if breached {
		return full(a, ReasonStop)
	}
	return a
}

func needsRefresh(s ledger.TradeState, p config.Preset, now time.Time) bool {
	if s.TPOrderID == "" {
		return true
	}
	target := broker.RoundPrice(s.TakeProfit)
	if s.TPPrice <= 0 {
		return true
	}
	if math.Abs(target-s.TPPrice)/s.TPPrice*1e4 > p.TPRefreshDriftBps {
		return true
	}
	return p.TPRefreshInterval > 0 && now.Sub(s.LastTPRefresh) >= p.TPRefreshInterval && target != s.TPPrice
}
