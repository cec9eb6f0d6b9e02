package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "An autonomous crypto trading-decision engine",
	Long: `Trader scans a universe of crypto pairs on a fixed cadence, scores each one
against a gate preset, and when auto-trade is on enters long positions it
then manages to an exit.

It provides tools for:
  - Running the engine with its HTTP dashboard API and event stream
  - One-off evaluations of the universe without trading
  - Generating and validating configuration files
  - Inspecting gate presets
  - Querying the trade journal

Credentials are read from the environment (APCA_API_KEY_ID,
APCA_API_SECRET_KEY, CRYPTOCOMPARE_API_KEY) or a dotenv file.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
}

// loadConfig reads the config file, or the defaults, then credentials.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile == "" {
		cfg = config.Default()
		err = cfg.Validate()
	} else {
		cfg, err = config.LoadFromFile(cfgFile)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}
