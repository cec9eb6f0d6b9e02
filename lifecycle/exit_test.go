package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/ledger"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// openState is a balanced-preset position at 100 with ATR 1 and a resting
// take-profit at its initial target.
func openState() ledger.TradeState {
	st := Seed("t1", "ETH/USD", 100, 10, 1, t0, balanced())
	st.Phase = ledger.Open
	st.TPOrderID = "tp-1"
	st.TPPrice = broker.RoundPrice(st.InitialTP)
	st.LastTPRefresh = t0
	return st
}

func TestEvaluateHold(t *testing.T) {
	t.Parallel()
	a := Evaluate(openState(), Inputs{Mark: 100.2}, balanced(), t0.Add(10*time.Minute))
	assert.Equal(t, Hold, a.Kind)
	assert.False(t, a.StopRaised)
	assert.False(t, a.RefreshTP)
	assert.Equal(t, 100.2, a.State.Peak)
}

func TestEvaluateBreakevenArm(t *testing.T) {
	t.Parallel()
	p := balanced()
	p.PartialExit = false

	a := Evaluate(openState(), Inputs{Mark: 101.1}, p, t0.Add(10*time.Minute))
	require.Equal(t, Hold, a.Kind)
	assert.True(t, a.StopRaised)
	assert.True(t, a.State.BreakevenArmed)
	// max(breakeven 100.3, trail 101.1-1.5)
	assert.InDelta(t, 100.3, a.State.Stop, 1e-9)
}

func TestStopNeverDecreases(t *testing.T) {
	t.Parallel()
	p := balanced()
	p.PartialExit = false
	p.VWAPExit = false

	marks := []float64{100.4, 101.2, 102.0, 101.4, 103.1, 102.2, 104.0, 103.3, 103.9, 102.6, 102.4}
	st := openState()
	armedStop := 0.0
	for i, mark := range marks {
		a := Evaluate(st, Inputs{Mark: mark}, p, t0.Add(time.Duration(10+i)*time.Minute))
		if st.BreakevenArmed {
			assert.GreaterOrEqual(t, a.State.Stop, st.Stop, "tick %d", i)
			assert.GreaterOrEqual(t, a.State.Stop, Breakeven(st.EntryPrice, p))
		}
		if a.State.BreakevenArmed && armedStop == 0 {
			armedStop = a.State.Stop
		}
		st = a.State
		if a.Kind == Full {
			assert.Equal(t, ReasonStop, a.Reason)
			assert.LessOrEqual(t, mark, st.Stop)
			break
		}
	}
	assert.NotZero(t, armedStop)
	// trail from the 104 peak
	assert.InDelta(t, 102.5, st.Stop, 1e-9)
}

func TestEvaluatePartialOnce(t *testing.T) {
	t.Parallel()
	p := balanced()

	a := Evaluate(openState(), Inputs{Mark: 100.5}, p, t0.Add(10*time.Minute))
	require.Equal(t, Partial, a.Kind)
	assert.Equal(t, 5.0, a.PartialQty)
	assert.InDelta(t, Breakeven(100, p), a.State.Stop, 1e-9)

	st := a.State
	st.PartialDone = true
	st.Phase = ledger.PartiallyExited
	a = Evaluate(st, Inputs{Mark: 100.6}, p, t0.Add(11*time.Minute))
	assert.Equal(t, Hold, a.Kind)
}

func TestEvaluateStopBeatsPartial(t *testing.T) {
	t.Parallel()
	p := balanced()

	// trailed stop sits above the partial trigger
	st := openState()
	st.Stop = 100.8
	st.BreakevenArmed = true
	a := Evaluate(st, Inputs{Mark: 100.6}, p, t0.Add(10*time.Minute))
	assert.Equal(t, Full, a.Kind)
	assert.Equal(t, ReasonStop, a.Reason)
	assert.Zero(t, a.PartialQty)
}

func TestEvaluateFastWrong(t *testing.T) {
	t.Parallel()
	p := balanced()
	early := t0.Add(2 * time.Minute)

	a := Evaluate(openState(), Inputs{Mark: 98.9, ATR1m: indicators.Value{V: 0.5, OK: true}}, p, early)
	assert.Equal(t, Full, a.Kind)
	assert.Equal(t, ReasonFastWrong, a.Reason)

	a = Evaluate(openState(), Inputs{Mark: 99.9, EMAInverted: true}, p, early)
	assert.Equal(t, ReasonFastWrong, a.Reason)

	// inverted but not losing enough
	a = Evaluate(openState(), Inputs{Mark: 99.99, EMAInverted: true}, p, early)
	assert.Equal(t, Hold, a.Kind)

	// outside the window
	a = Evaluate(openState(), Inputs{Mark: 99.9, EMAInverted: true}, p, t0.Add(10*time.Minute))
	assert.Equal(t, Hold, a.Kind)

	adopted := openState()
	adopted.Adopted = true
	a = Evaluate(adopted, Inputs{Mark: 99.9, EMAInverted: true}, p, early)
	assert.Equal(t, Hold, a.Kind)
}

func TestEvaluateVWAPExit(t *testing.T) {
	t.Parallel()
	p := balanced()
	now := t0.Add(10 * time.Minute)
	vwap := indicators.Value{V: 101, OK: true}
	bar1 := t0.Add(8 * time.Minute)
	bar2 := t0.Add(9 * time.Minute)

	a := Evaluate(openState(), Inputs{Mark: 100.1, VWAP: vwap, LastClose: 100.5, BarTime: bar1}, p, now)
	require.Equal(t, Hold, a.Kind)
	assert.Equal(t, 1, a.State.BelowVWAP)

	// same bar seen again does not count twice
	a = Evaluate(a.State, Inputs{Mark: 100.1, VWAP: vwap, LastClose: 100.5, BarTime: bar1}, p, now)
	require.Equal(t, Hold, a.Kind)
	assert.Equal(t, 1, a.State.BelowVWAP)

	a = Evaluate(a.State, Inputs{Mark: 100.1, VWAP: vwap, LastClose: 100.4, BarTime: bar2}, p, now)
	assert.Equal(t, Full, a.Kind)
	assert.Equal(t, ReasonVWAP, a.Reason)

	// a loss beyond round-trip fees leaves it to the stop
	st := openState()
	st.BelowVWAP = 2
	a = Evaluate(st, Inputs{Mark: 99.0}, p, now)
	assert.Equal(t, Hold, a.Kind)

	// a close above VWAP resets the run
	st = openState()
	st.BelowVWAP = 1
	a = Evaluate(st, Inputs{Mark: 100.1, VWAP: vwap, LastClose: 101.2, BarTime: bar2}, p, now)
	assert.Equal(t, 0, a.State.BelowVWAP)
}

func TestEvaluateTimeExits(t *testing.T) {
	t.Parallel()
	p := balanced()

	a := Evaluate(openState(), Inputs{Mark: 99}, p, t0.Add(p.MaxHold))
	assert.Equal(t, ReasonMaxHold, a.Reason)

	a = Evaluate(openState(), Inputs{Mark: 100.35}, p, t0.Add(4*time.Hour+30*time.Minute))
	assert.Equal(t, ReasonTimeStop, a.Reason)

	a = Evaluate(openState(), Inputs{Mark: 99.5}, p, t0.Add(4*time.Hour+30*time.Minute))
	assert.Equal(t, Hold, a.Kind)
}

func TestEvaluateStopBreach(t *testing.T) {
	t.Parallel()
	a := Evaluate(openState(), Inputs{Mark: 98.4}, balanced(), t0.Add(10*time.Minute))
	assert.Equal(t, Full, a.Kind)
	assert.Equal(t, ReasonStop, a.Reason)
}

func TestEvaluateTPRefresh(t *testing.T) {
	t.Parallel()
	p := balanced()

	a := Evaluate(openState(), Inputs{Mark: 100.2}, p, t0.Add(2*time.Hour))
	assert.True(t, a.RefreshTP)
	assert.InDelta(t, 100.59, a.State.TakeProfit, 1e-9)

	st := openState()
	st.TPOrderID = ""
	a = Evaluate(st, Inputs{Mark: 100.2}, p, t0.Add(time.Minute))
	assert.True(t, a.RefreshTP)
}
