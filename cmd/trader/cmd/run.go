package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine and its HTTP API",
	Long: `Run the scan and exit loops with the dashboard API, websocket event feed
and Prometheus metrics until interrupted.

Auto-trade starts off unless the config or --auto-trade turns it on; it can be
toggled at runtime with POST /api/autotrade.

Examples:
  trader run --paper
  trader run -c trader.yaml --env live --auto-trade`,
	RunE: runRun,
}

var (
	runAutoTrade bool
	runAddr      string
	runPaper     bool
	runEnv       string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runAutoTrade, "auto-trade", false, "enter positions automatically")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "HTTP listen address (overrides server.addr)")
	runCmd.Flags().BoolVar(&runPaper, "paper", false, "trade against the in-process simulated broker")
	runCmd.Flags().StringVar(&runEnv, "env", "", "alpaca environment: paper or live (overrides broker.base_url)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runAutoTrade {
		cfg.Engine.AutoTrade = true
	}
	if runAddr != "" {
		cfg.Server.Addr = runAddr
	}

	a, err := buildApp(cfg, buildOptions{paper: runPaper, alpaca: runEnv})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.start(ctx)
	srv := server.New(cfg.Server.Addr, a.engine, a.log)

	var (
		wg     sync.WaitGroup
		srvErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if srvErr = srv.Run(ctx); srvErr != nil {
			a.log.Error("http server stopped", "error", srvErr)
			stop()
		}
	}()

	err = a.engine.Run(ctx)
	wg.Wait()
	a.log.Info("shutdown complete")
	if srvErr != nil {
		return fmt.Errorf("http server: %w", srvErr)
	}
	return err
}
