package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "buttond",
	Short: "Bluetooth LE smart button daemon",
	Long: `Connects paired Bluetooth LE buttons and turns their presses into events:

- Click, double click and hold detection per button
- Replay of presses queued while a button was out of range
- Catalog of grabbed buttons persisted across restarts
- Events published to MQTT, a WebSocket feed, a Lua script and the terminal`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(grabCmd)
	rootCmd.AddCommand(forgetCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "buttond.yaml", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before environment overrides")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
