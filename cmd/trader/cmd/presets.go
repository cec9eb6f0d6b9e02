package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List or show gate presets",
	Long: `Presets bundle the gate thresholds, sizing, exit and admission settings.
Presets defined in the config file replace built-ins of the same name.

Examples:
  trader presets
  trader presets show conservative`,
	Args: cobra.NoArgs,
	RunE: runPresetsList,
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every preset; the active one is starred",
	Args:  cobra.NoArgs,
	RunE:  runPresetsList,
}

var presetsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print one preset as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetsShow,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
	presetsCmd.AddCommand(presetsListCmd)
	presetsCmd.AddCommand(presetsShowCmd)
}

func runPresetsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	all := cfg.AllPresets()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tPASS\tMIN EDGE\tMAX SPREAD\tMAX OPEN\tDESCRIPTION")
	for _, name := range names {
		p := all[name]
		mark := ""
		if name == cfg.Preset {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\t%.0f\t%d\t%s\n",
			mark, name, p.MinPassCount, p.MinEdgeBps, p.MaxSpreadBps, p.MaxConcurrent, p.Description)
	}
	return w.Flush()
}

func runPresetsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, ok := cfg.AllPresets()[args[0]]
	if !ok {
		return fmt.Errorf("unknown preset: %s", args[0])
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]any{args[0]: p})
}
