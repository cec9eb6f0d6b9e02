package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "balanced", cfg.Preset)
	assert.Equal(t, ":memory:", cfg.Journal.DBPath)
	assert.False(t, cfg.Engine.AutoTrade)
	assert.Len(t, cfg.Instruments, 18)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.Broker.Provider = "oanda" }},
		{"bar limit", func(c *Config) { c.MarketData.BarLimit = 10 }},
		{"workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"benchmark", func(c *Config) { c.Engine.Benchmark = "XRP/USD" }},
		{"preset", func(c *Config) { c.Preset = "yolo" }},
		{"bad preset", func(c *Config) {
			p := balanced()
			p.MaxConcurrentHighVol = 9
			c.Presets = map[string]Preset{"balanced": p}
		}},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trader.yaml")
	yml := `
broker:
  provider: sim
  sim_cash: 2500
engine:
  scan_interval: 30s
  benchmark: BTC/USD
preset: aggressive
presets:
  aggressive:
    min_pass_count: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err, "partial preset replaces the built-in and fails validation")

	yml = `
broker:
  provider: sim
  sim_cash: 2500
engine:
  scan_interval: 30s
preset: conservative
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Broker.Provider)
	assert.Equal(t, 30*time.Second, cfg.Engine.ScanInterval)
	assert.Equal(t, 10*time.Second, cfg.Engine.ExitInterval)
	assert.Equal(t, 2500.0, cfg.Broker.SimCash)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		path := filepath.Join(dir, name)
		cfg := Default()
		cfg.Preset = "aggressive"
		require.NoError(t, cfg.SaveToFile(path))

		got, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, "aggressive", got.Preset)
		assert.Equal(t, cfg.Engine, got.Engine)
	}
}

func TestPresetsReplaceNotMerge(t *testing.T) {
	cfg := Default()
	custom := balanced()
	custom.MinPassCount = 1
	custom.Description = "custom"
	cfg.Presets = map[string]Preset{"balanced": custom, "mine": aggressive()}

	all := cfg.AllPresets()
	assert.Equal(t, 1, all["balanced"].MinPassCount)
	assert.Equal(t, "custom", all["balanced"].Description)
	assert.Equal(t, 4, all["conservative"].MinPassCount)
	assert.Equal(t, []string{"aggressive", "balanced", "conservative", "mine"}, cfg.PresetNames())

	assert.Equal(t, 2, BuiltinPresets()["aggressive"].MinPassCount)
	assert.Equal(t, 3, BuiltinPresets()["balanced"].MinPassCount)
	for name, p := range BuiltinPresets() {
		assert.NoError(t, p.Validate(), name)
	}
}

func TestSnapshot(t *testing.T) {
	cfg := Default()
	now := time.Unix(1700000000, 0)
	snap, err := cfg.Snapshot("conservative", now)
	require.NoError(t, err)
	assert.Equal(t, "conservative", snap.PresetName)
	assert.Equal(t, 4, snap.Preset.MinPassCount)
	assert.Equal(t, now, snap.Taken)
	assert.Equal(t, 30.0, snap.Preset.RoundTripFeeBps())

	// the snapshot is a copy
	cfg.Engine.Workers = 99
	assert.Equal(t, 4, snap.Engine.Workers)

	_, err = cfg.Snapshot("nope", now)
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("APCA_API_KEY_ID=abc\nAPCA_API_SECRET_KEY=xyz\n"), 0600))

	t.Setenv(EnvKeyID, "")
	t.Setenv(EnvSecretKey, "")
	os.Unsetenv(EnvKeyID)
	os.Unsetenv(EnvSecretKey)

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "abc", cfg.Broker.KeyID)
	assert.True(t, cfg.HasBrokerCredentials())
}
