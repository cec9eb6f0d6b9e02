package config

import (
	"fmt"
	"sort"
	"time"
)

// Preset is a named set of strategy thresholds. Presets are swapped as a
// unit and never merged field by field.
type Preset struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Gates
	MinPassCount          int     `json:"min_pass_count" yaml:"min_pass_count"`
	MinScore              float64 `json:"min_score" yaml:"min_score"`
	SigmaFloor            float64 `json:"sigma_floor" yaml:"sigma_floor"`
	ZFloor                float64 `json:"z_floor" yaml:"z_floor"`
	RegimeFilter          bool    `json:"regime_filter" yaml:"regime_filter"`
	MinEdgeBps            float64 `json:"min_edge_bps" yaml:"min_edge_bps"`
	MaxSpreadBps          float64 `json:"max_spread_bps" yaml:"max_spread_bps"`
	SpreadOverrideEdgeBps float64 `json:"spread_override_edge_bps" yaml:"spread_override_edge_bps"`
	RelStrength           bool    `json:"rel_strength" yaml:"rel_strength"`
	RelStrengthMinBps     float64 `json:"rel_strength_min_bps" yaml:"rel_strength_min_bps"`
	RelStrengthBars       int     `json:"rel_strength_bars" yaml:"rel_strength_bars"`

	// Costs, per side
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`

	// Sizing
	RiskFraction float64 `json:"risk_fraction" yaml:"risk_fraction"`
	StopATRMult  float64 `json:"stop_atr_mult" yaml:"stop_atr_mult"`
	MaxEquityPct float64 `json:"max_equity_pct" yaml:"max_equity_pct"`
	MaxNotional  float64 `json:"max_notional" yaml:"max_notional"`
	MinNotional  float64 `json:"min_notional" yaml:"min_notional"`
	UseMargin    bool    `json:"use_margin" yaml:"use_margin"`

	// Entry
	SlippageCap      float64 `json:"slippage_cap" yaml:"slippage_cap"`
	ImpulseThreshold float64 `json:"impulse_threshold" yaml:"impulse_threshold"`

	// Take profit
	TPATRMult         float64       `json:"tp_atr_mult" yaml:"tp_atr_mult"`
	MinTPBps          float64       `json:"min_tp_bps" yaml:"min_tp_bps"`
	EdgeBps           float64       `json:"edge_bps" yaml:"edge_bps"`
	TPDecayStart      time.Duration `json:"tp_decay_start" yaml:"tp_decay_start"`
	TPDecayFull       time.Duration `json:"tp_decay_full" yaml:"tp_decay_full"`
	TPRefreshInterval time.Duration `json:"tp_refresh_interval" yaml:"tp_refresh_interval"`
	TPRefreshDriftBps float64       `json:"tp_refresh_drift_bps" yaml:"tp_refresh_drift_bps"`

	// Stops and exits
	BreakevenATRMult float64       `json:"breakeven_atr_mult" yaml:"breakeven_atr_mult"`
	TrailATRMult     float64       `json:"trail_atr_mult" yaml:"trail_atr_mult"`
	PartialExit      bool          `json:"partial_exit" yaml:"partial_exit"`
	PartialFraction  float64       `json:"partial_fraction" yaml:"partial_fraction"`
	FastWrongWindow  time.Duration `json:"fast_wrong_window" yaml:"fast_wrong_window"`
	FastWrongLossBps float64       `json:"fast_wrong_loss_bps" yaml:"fast_wrong_loss_bps"`
	FastWrongATRMult float64       `json:"fast_wrong_atr_mult" yaml:"fast_wrong_atr_mult"`
	VWAPExit         bool          `json:"vwap_exit" yaml:"vwap_exit"`
	VWAPExitBars     int           `json:"vwap_exit_bars" yaml:"vwap_exit_bars"`
	MaxHold          time.Duration `json:"max_hold" yaml:"max_hold"`
	TimeStop         time.Duration `json:"time_stop" yaml:"time_stop"`

	// Admission
	MaxConcurrent        int           `json:"max_concurrent" yaml:"max_concurrent"`
	MaxConcurrentHighVol int           `json:"max_concurrent_high_vol" yaml:"max_concurrent_high_vol"`
	HighVolSigma         float64       `json:"high_vol_sigma" yaml:"high_vol_sigma"`
	SymbolCooldown       time.Duration `json:"symbol_cooldown" yaml:"symbol_cooldown"`
	LossCooldown         time.Duration `json:"loss_cooldown" yaml:"loss_cooldown"`
	LossStreak           int           `json:"loss_streak" yaml:"loss_streak"`
	LossStreakWindow     time.Duration `json:"loss_streak_window" yaml:"loss_streak_window"`
	LossStreakCooldown   time.Duration `json:"loss_streak_cooldown" yaml:"loss_streak_cooldown"`
	VolKillZ             float64       `json:"vol_kill_z" yaml:"vol_kill_z"`
	VolKillCooldown      time.Duration `json:"vol_kill_cooldown" yaml:"vol_kill_cooldown"`
	DailyDrawdownPct     float64       `json:"daily_drawdown_pct" yaml:"daily_drawdown_pct"`
}

// RoundTripFeeBps is the fee paid entering and leaving a position.
func (p Preset) RoundTripFeeBps() float64 {
	return 2 * p.FeeBps
}

// Validate checks that every threshold is usable.
func (p Preset) Validate() error {
	if p.MinPassCount < 0 || p.MinPassCount > 4 {
		return fmt.Errorf("min_pass_count must be between 0 and 4")
	}
	if p.MinScore < 0 || p.MinScore > 100 {
		return fmt.Errorf("min_score must be between 0 and 100")
	}
	if p.RiskFraction <= 0 || p.RiskFraction > 0.1 {
		return fmt.Errorf("risk_fraction must be in (0, 0.1]")
	}
	if p.StopATRMult <= 0 || p.TPATRMult <= 0 {
		return fmt.Errorf("stop_atr_mult and tp_atr_mult must be positive")
	}
	if p.MaxEquityPct <= 0 || p.MaxEquityPct > 1 {
		return fmt.Errorf("max_equity_pct must be in (0, 1]")
	}
	if p.MinNotional <= 0 {
		return fmt.Errorf("min_notional must be positive")
	}
	if p.MaxNotional > 0 && p.MaxNotional < p.MinNotional {
		return fmt.Errorf("max_notional below min_notional")
	}
	if p.SlippageCap < 0 || p.SlippageCap > 0.05 {
		return fmt.Errorf("slippage_cap must be in [0, 0.05]")
	}
	if p.TPDecayFull < p.TPDecayStart {
		return fmt.Errorf("tp_decay_full must not precede tp_decay_start")
	}
	if p.PartialExit && (p.PartialFraction <= 0 || p.PartialFraction >= 1) {
		return fmt.Errorf("partial_fraction must be in (0, 1)")
	}
	if p.MaxConcurrent <= 0 || p.MaxConcurrentHighVol <= 0 {
		return fmt.Errorf("concurrency caps must be positive")
	}
	if p.MaxConcurrentHighVol > p.MaxConcurrent {
		return fmt.Errorf("max_concurrent_high_vol exceeds max_concurrent")
	}
	if p.VolKillZ >= 0 {
		return fmt.Errorf("vol_kill_z must be negative")
	}
	if p.DailyDrawdownPct <= 0 || p.DailyDrawdownPct >= 1 {
		return fmt.Errorf("daily_drawdown_pct must be in (0, 1)")
	}
	if p.MaxHold > 0 && p.TimeStop > p.MaxHold {
		return fmt.Errorf("time_stop exceeds max_hold")
	}
	return nil
}

func balanced() Preset {
	return Preset{
		Description:           "three of four gates, moderate sizing",
		MinPassCount:          3,
		MinScore:              60,
		SigmaFloor:            0.0005,
		ZFloor:                0.25,
		RegimeFilter:          true,
		MinEdgeBps:            5,
		MaxSpreadBps:          15,
		SpreadOverrideEdgeBps: 25,
		RelStrength:           false,
		RelStrengthMinBps:     10,
		RelStrengthBars:       15,
		FeeBps:                15,
		SlippageBps:           5,
		RiskFraction:          0.0025,
		StopATRMult:           1.5,
		MaxEquityPct:          0.10,
		MaxNotional:           2500,
		MinNotional:           5,
		SlippageCap:           0.002,
		ImpulseThreshold:      0.004,
		TPATRMult:             2.0,
		MinTPBps:              80,
		EdgeBps:               10,
		TPDecayStart:          30 * time.Minute,
		TPDecayFull:           3 * time.Hour,
		TPRefreshInterval:     5 * time.Minute,
		TPRefreshDriftBps:     10,
		BreakevenATRMult:      1.0,
		TrailATRMult:          1.5,
		PartialExit:           true,
		PartialFraction:       0.5,
		FastWrongWindow:       5 * time.Minute,
		FastWrongLossBps:      5,
		FastWrongATRMult:      1.0,
		VWAPExit:              true,
		VWAPExitBars:          2,
		MaxHold:               8 * time.Hour,
		TimeStop:              4 * time.Hour,
		MaxConcurrent:         3,
		MaxConcurrentHighVol:  2,
		HighVolSigma:          0.003,
		SymbolCooldown:        15 * time.Minute,
		LossCooldown:          60 * time.Minute,
		LossStreak:            3,
		LossStreakWindow:      time.Hour,
		LossStreakCooldown:    30 * time.Minute,
		VolKillZ:              -2.5,
		VolKillCooldown:       30 * time.Minute,
		DailyDrawdownPct:      0.03,
	}
}

func conservative() Preset {
	p := balanced()
	p.Description = "all four gates, relative strength, small size"
	p.MinPassCount = 4
	p.MinScore = 70
	p.RelStrength = true
	p.MinEdgeBps = 10
	p.MaxSpreadBps = 10
	p.RiskFraction = 0.0015
	p.MaxEquityPct = 0.05
	p.SlippageCap = 0.001
	p.MaxConcurrent = 2
	p.MaxConcurrentHighVol = 1
	p.SymbolCooldown = 30 * time.Minute
	p.LossCooldown = 2 * time.Hour
	p.LossStreak = 2
	p.DailyDrawdownPct = 0.02
	return p
}

func aggressive() Preset {
	p := balanced()
	p.Description = "two of four gates, no regime filter, larger size"
	p.MinPassCount = 2
	p.MinScore = 50
	p.RegimeFilter = false
	p.VWAPExit = false
	p.MinEdgeBps = 2
	p.MaxSpreadBps = 25
	p.RiskFraction = 0.005
	p.MaxEquityPct = 0.20
	p.SlippageCap = 0.003
	p.PartialFraction = 0.33
	p.MaxConcurrent = 5
	p.MaxConcurrentHighVol = 3
	p.SymbolCooldown = 5 * time.Minute
	p.LossCooldown = 20 * time.Minute
	p.LossStreak = 4
	p.DailyDrawdownPct = 0.05
	return p
}

// BuiltinPresets returns fresh copies of the stock presets.
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"conservative": conservative(),
		"balanced":     balanced(),
		"aggressive":   aggressive(),
	}
}

// AllPresets returns the built-in presets with any preset named in the
// file replacing the built-in one of the same name.
func (c *Config) AllPresets() map[string]Preset {
	out := BuiltinPresets()
	for name, p := range c.Presets {
		out[name] = p
	}
	return out
}

// PresetNames returns the sorted preset names.
func (c *Config) PresetNames() []string {
	all := c.AllPresets()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
