package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/engine"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the universe once without trading",
	Long: `Fetch market data, compute indicators and apply the active preset to every
instrument, then print the result. Nothing is ordered: the simulated broker
is used and auto-trade is off.

Example:
  trader evaluate --preset aggressive`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

var (
	evaluatePreset  string
	evaluateTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluatePreset, "preset", "p", "", "preset to apply (defaults to the configured one)")
	evaluateCmd.Flags().DurationVar(&evaluateTimeout, "timeout", 2*time.Minute, "give up after this long")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Engine.AutoTrade = false
	if evaluatePreset != "" {
		cfg.Preset = evaluatePreset
	}

	a, err := buildApp(cfg, buildOptions{paper: true, journal: ":memory:"})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), evaluateTimeout)
	defer cancel()

	res, err := a.engine.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Printf("Preset %s, benchmark trend %s, evaluated %d in %s\n\n",
		res.Preset, res.Benchmark.Trend, res.Evaluated, res.Duration.Round(time.Millisecond))
	printSnapshots(a.engine.Snapshots())
	return nil
}

func printSnapshots(snaps []engine.InstrumentSnapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPRICE\tRSI\tZ\tSIGMA\tNET EDGE\tSPREAD\tPASS\tSCORE\tSTATUS")
	for _, s := range snaps {
		status := "-"
		switch {
		case s.Disabled:
			status = "disabled"
		case s.MissingData:
			status = "missing: " + s.Error
		case s.EntryReady:
			status = "READY"
		case s.Watchlist:
			status = "watch"
		case s.Decision.Reason != "":
			status = s.Decision.Reason
		}
		ind := s.Indicators
		fmt.Fprintf(w, "%s\t%.6g\t%.1f\t%.2f\t%.4f\t%.1f\t%.1f\t%d\t%.2f\t%s\n",
			s.Symbol, s.Price, ind.RSI.Or(0), ind.Z.Or(0), ind.Sigma.Or(0),
			s.Decision.NetEdgeBps, s.Decision.SpreadBps, s.Decision.Passed, s.Decision.Score, status)
	}
	w.Flush()
}
