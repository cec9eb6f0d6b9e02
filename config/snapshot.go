package config

import (
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/indicators"
)

// Snapshot is the immutable configuration view for one loop cycle. It is
// built once per tick and passed to every component that needs thresholds.
type Snapshot struct {
	PresetName string
	Preset     Preset
	Engine     EngineConfig
	Indicators indicators.Params
	Taken      time.Time
}

// Snapshot builds the per-cycle view for the named preset.
func (c *Config) Snapshot(preset string, now time.Time) (Snapshot, error) {
	p, ok := c.AllPresets()[preset]
	if !ok {
		return Snapshot{}, fmt.Errorf("unknown preset: %s", preset)
	}
	return Snapshot{
		PresetName: preset,
		Preset:     p,
		Engine:     c.Engine,
		Indicators: c.Indicators,
		Taken:      now,
	}, nil
}
