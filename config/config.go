package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// Config represents the complete engine configuration
type Config struct {
	Broker      BrokerConfig        `json:"broker" yaml:"broker"`
	MarketData  MarketDataConfig    `json:"market_data" yaml:"market_data"`
	Engine      EngineConfig        `json:"engine" yaml:"engine"`
	Indicators  indicators.Params   `json:"indicators" yaml:"indicators"`
	Instruments []market.Instrument `json:"instruments" yaml:"instruments"`
	Preset      string              `json:"preset" yaml:"preset"`
	Presets     map[string]Preset   `json:"presets,omitempty" yaml:"presets,omitempty"`
	Journal     JournalConfig       `json:"journal" yaml:"journal"`
	Server      ServerConfig        `json:"server" yaml:"server"`
	Log         LogConfig           `json:"log" yaml:"log"`
}

// BrokerConfig selects and addresses the brokerage. Credentials come from
// the environment, never from the file.
type BrokerConfig struct {
	Provider  string        `json:"provider" yaml:"provider"` // "alpaca" or "sim"
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	StreamURL string        `json:"stream_url" yaml:"stream_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	Retries   uint64        `json:"retries" yaml:"retries"`

	// Sim starting cash, used when Provider is "sim".
	SimCash float64 `json:"sim_cash" yaml:"sim_cash"`

	KeyID     string `json:"-" yaml:"-"`
	SecretKey string `json:"-" yaml:"-"`
}

// MarketDataConfig addresses the price/bar and quote sources.
type MarketDataConfig struct {
	BaseURL            string        `json:"base_url" yaml:"base_url"`
	QuoteURL           string        `json:"quote_url" yaml:"quote_url"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	Retries            uint64        `json:"retries" yaml:"retries"`
	BarLimit           int           `json:"bar_limit" yaml:"bar_limit"`
	SyntheticSpreadBps float64       `json:"synthetic_spread_bps" yaml:"synthetic_spread_bps"`

	APIKey string `json:"-" yaml:"-"`
}

// EngineConfig contains the loop schedule and fill-confirmation bounds
type EngineConfig struct {
	ScanInterval            time.Duration `json:"scan_interval" yaml:"scan_interval"`
	ExitInterval            time.Duration `json:"exit_interval" yaml:"exit_interval"`
	Workers                 int           `json:"workers" yaml:"workers"`
	Benchmark               string        `json:"benchmark" yaml:"benchmark"`
	AutoTrade               bool          `json:"auto_trade" yaml:"auto_trade"`
	FillPolls               int           `json:"fill_polls" yaml:"fill_polls"`
	FillPollInterval        time.Duration `json:"fill_poll_interval" yaml:"fill_poll_interval"`
	PositionConfirmRetries  int           `json:"position_confirm_retries" yaml:"position_confirm_retries"`
	PositionConfirmInterval time.Duration `json:"position_confirm_interval" yaml:"position_confirm_interval"`
	EventBuffer             int           `json:"event_buffer" yaml:"event_buffer"`
	MinCloses               int           `json:"min_closes" yaml:"min_closes"`
}

// JournalConfig contains trade journaling parameters
type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"` // ":memory:" keeps nothing across restarts
}

// ServerConfig is the HTTP surface.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig controls the slog handler and the rotating log file.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // text or json
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content).
// Fields missing from the file keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Broker.Provider {
	case "alpaca", "sim":
	default:
		return fmt.Errorf("broker.provider must be 'alpaca' or 'sim'")
	}
	if c.Broker.Provider == "alpaca" && c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.Provider == "sim" && c.Broker.SimCash <= 0 {
		return fmt.Errorf("broker.sim_cash must be positive")
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.MarketData.BarLimit < 60 {
		return fmt.Errorf("market_data.bar_limit must be at least 60")
	}
	if c.Engine.ScanInterval <= 0 || c.Engine.ExitInterval <= 0 {
		return fmt.Errorf("engine intervals must be positive")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.FillPolls <= 0 {
		return fmt.Errorf("engine.fill_polls must be positive")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	u, err := market.NewUniverse(c.Instruments)
	if err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	if _, ok := u.Lookup(c.Engine.Benchmark); !ok {
		return fmt.Errorf("benchmark %q is not in the instrument list", c.Engine.Benchmark)
	}
	presets := c.AllPresets()
	if _, ok := presets[c.Preset]; !ok {
		return fmt.Errorf("unknown preset: %s", c.Preset)
	}
	for name, p := range presets {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Universe builds the validated instrument universe.
func (c *Config) Universe() (*market.Universe, error) {
	return market.NewUniverse(c.Instruments)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Provider:  "alpaca",
			BaseURL:   "https://paper-api.alpaca.markets",
			StreamURL: "wss://paper-api.alpaca.markets/stream",
			Timeout:   10 * time.Second,
			Retries:   3,
			SimCash:   10000,
		},
		MarketData: MarketDataConfig{
			BaseURL:            "https://min-api.cryptocompare.com",
			QuoteURL:           "https://data.alpaca.markets",
			Timeout:            10 * time.Second,
			Retries:            3,
			BarLimit:           200,
			SyntheticSpreadBps: 10,
		},
		Engine: EngineConfig{
			ScanInterval:            60 * time.Second,
			ExitInterval:            10 * time.Second,
			Workers:                 4,
			Benchmark:               "BTC/USD",
			AutoTrade:               false,
			FillPolls:               20,
			FillPollInterval:        3 * time.Second,
			PositionConfirmRetries:  3,
			PositionConfirmInterval: time.Second,
			EventBuffer:             500,
			MinCloses:               20,
		},
		Indicators:  indicators.DefaultParams(),
		Instruments: market.DefaultInstruments(),
		Preset:      "balanced",
		Journal: JournalConfig{
			DBPath: ":memory:",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}
