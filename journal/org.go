package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders one trade as an org-mode heading with a
// properties drawer and empty review sections.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s (%s)\n", t.Symbol, shortID(t.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":QTY: %s\n", trimFloat(t.Qty))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", trimFloat(t.EntryPrice))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", trimFloat(t.ExitPrice))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.CloseTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", t.RealizedPL)
	fmt.Fprintf(&b, ":FEES: %.2f\n", t.Fees)
	fmt.Fprintf(&b, ":NET_PL: %.2f\n", t.RealizedPL-t.Fees)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	if t.Preset != "" {
		fmt.Fprintf(&b, ":PRESET: %s\n", t.Preset)
	}
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n\n")
	b.WriteString("*** Execution\n\n")
	b.WriteString("*** Review\n")
	return b.String()
}

// FormatTradesOrg renders trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	parts := make([]string, 0, len(trades))
	for _, t := range trades {
		parts = append(parts, FormatTradeOrg(t))
	}
	return strings.Join(parts, "\n\n")
}

// shortID is the random tail of a ULID, enough to tell trades apart.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
