// market/instruments.go
package market

import (
	"fmt"
	"sort"
	"strings"
)

// Instrument is a tradable pair. It is configured at start-up and never
// mutated afterwards.
type Instrument struct {
	Symbol    string `json:"symbol" yaml:"symbol"`         // brokerage symbol, e.g. "BTC/USD"
	Name      string `json:"name" yaml:"name"`             // display name
	DataAlias string `json:"data_alias" yaml:"data_alias"` // market-data symbol, e.g. "BTC"

	// MaxNotional overrides the per-trade notional ceiling for this
	// instrument. nil means no override; zero disables trading it.
	MaxNotional *float64 `json:"max_notional,omitempty" yaml:"max_notional,omitempty"`
}

// Base returns the base asset ("BTC" for "BTC/USD").
func (i Instrument) Base() string {
	if b, _, ok := strings.Cut(i.Symbol, "/"); ok {
		return b
	}
	return strings.TrimSuffix(i.Symbol, "USD")
}

// Alias returns the market-data alias, falling back to the base asset.
func (i Instrument) Alias() string {
	if i.DataAlias != "" {
		return i.DataAlias
	}
	return i.Base()
}

// Disabled reports whether the per-instrument ceiling switches it off.
func (i Instrument) Disabled() bool {
	return i.MaxNotional != nil && *i.MaxNotional <= 0
}

// NormalizeSymbol maps "BTCUSD", "btc/usd" and "BTC-USD" to "BTC/USD".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "/")
	if strings.Contains(s, "/") {
		return s
	}
	if strings.HasSuffix(s, "USD") && len(s) > 3 {
		return s[:len(s)-3] + "/USD"
	}
	return s
}

// Universe is the fixed, ordered set of instruments the engine evaluates.
type Universe struct {
	list  []Instrument
	index map[string]int
}

// NewUniverse validates and indexes the instruments. Symbols are normalized.
func NewUniverse(instruments []Instrument) (*Universe, error) {
	u := &Universe{index: make(map[string]int, len(instruments))}
	for _, in := range instruments {
		in.Symbol = NormalizeSymbol(in.Symbol)
		if in.Symbol == "" {
			return nil, fmt.Errorf("instrument with empty symbol")
		}
		if _, dup := u.index[in.Symbol]; dup {
			return nil, fmt.Errorf("duplicate instrument %q", in.Symbol)
		}
		if in.Name == "" {
			in.Name = in.Symbol
		}
		u.index[in.Symbol] = len(u.list)
		u.list = append(u.list, in)
	}
	return u, nil
}

// All returns a copy of the instruments in configuration order.
func (u *Universe) All() []Instrument {
	out := make([]Instrument, len(u.list))
	copy(out, u.list)
	return out
}

// Lookup finds an instrument by any spelling of its symbol.
func (u *Universe) Lookup(symbol string) (Instrument, bool) {
	i, ok := u.index[NormalizeSymbol(symbol)]
	if !ok {
		return Instrument{}, false
	}
	return u.list[i], true
}

// Symbols returns the sorted symbol list.
func (u *Universe) Symbols() []string {
	out := make([]string, 0, len(u.list))
	for _, in := range u.list {
		out = append(out, in.Symbol)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of instruments.
func (u *Universe) Len() int { return len(u.list) }

// DefaultInstruments is the stock USD crypto universe.
func DefaultInstruments() []Instrument {
	bases := []string{
		"BTC", "ETH", "DOGE", "SUSHI", "SHIB", "CRV", "AAVE", "AVAX", "LINK",
		"LTC", "UNI", "DOT", "BCH", "BAT", "XTZ", "YFI", "GRT", "MKR",
	}
	out := make([]Instrument, 0, len(bases))
	for _, b := range bases {
		out = append(out, Instrument{
			Symbol:    b + "/USD",
			Name:      b + "/USD",
			DataAlias: b,
		})
	}
	return out
}
