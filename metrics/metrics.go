// Package metrics holds the Prometheus collectors the engine updates.
//
//   - trader_scans_total{result}            scans run or skipped
//   - trader_scan_seconds                    scan duration
//   - trader_orders_total{side,type}         orders submitted
//   - trader_order_rejects_total{side}       orders the brokerage refused
//   - trader_entries_skipped_total{reason}   entries blocked before submission
//   - trader_exits_total{reason}             full and partial exits
//   - trader_equity_usd                      last account equity
//   - trader_open_positions                  positions in the ledger
//   - trader_kill_switch{kind}               1 while a kill-switch is active
//
// Collectors are registered in init() and served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_scans_total",
			Help: "Scan ticks by result (run|skipped)",
		},
		[]string{"result"},
	)

	scanSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trader_scan_seconds",
			Help:    "Wall time of a full scan",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders submitted",
		},
		[]string{"side", "type"},
	)

	rejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_order_rejects_total",
			Help: "Orders rejected by the brokerage",
		},
		[]string{"side"},
	)

	entriesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_entries_skipped_total",
			Help: "Entries blocked before submission, by reason",
		},
		[]string{"reason"},
	)

	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Exits by reason",
		},
		[]string{"reason"},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_equity_usd",
			Help: "Account equity in USD",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Positions tracked in the ledger",
		},
	)

	killSwitch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_kill_switch",
			Help: "1 while the named kill-switch holds entries off",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(scans, scanSeconds, orders, rejects)
	prometheus.MustRegister(entriesSkipped, exits)
	prometheus.MustRegister(equity, openPositions, killSwitch)
}

func ScanRun(seconds float64) {
	scans.WithLabelValues("run").Inc()
	scanSeconds.Observe(seconds)
}

func ScanSkipped()                    { scans.WithLabelValues("skipped").Inc() }
func OrderSubmitted(side, typ string) { orders.WithLabelValues(side, typ).Inc() }
func OrderRejected(side string)       { rejects.WithLabelValues(side).Inc() }
func EntrySkipped(reason string)      { entriesSkipped.WithLabelValues(reason).Inc() }
func Exit(reason string)              { exits.WithLabelValues(reason).Inc() }
func SetEquity(v float64)             { equity.Set(v) }
func SetOpenPositions(n int)          { openPositions.Set(float64(n)) }

// SetKillSwitch flips the gauge for kind ("volatility", "drawdown",
// "loss_streak").
func SetKillSwitch(kind string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	killSwitch.WithLabelValues(kind).Set(v)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
