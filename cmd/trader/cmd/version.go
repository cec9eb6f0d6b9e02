package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is stamped at link time:
//
//	go build -ldflags "-X github.com/rustyeddy/autotrader/cmd/trader/cmd.version=v1.2.0"
var version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionLine(version, buildVersion()))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildVersion is the main module version recorded by the toolchain, empty
// for a plain source build.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

// versionLine prefers the linker-stamped version over build info.
func versionLine(stamped, built string) string {
	v := stamped
	if v == "" {
		v = built
	}
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("trader %s (%s %s/%s)", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
