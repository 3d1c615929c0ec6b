package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tradefusion",
	Short: "Signal fusion decision engine with position risk control",
	Long: `TradeFusion fuses technical, forecast, sentiment and market context scores into
BUY/SELL/HOLD decisions, sizes entries from a shared capital pool, trails open
positions and dispatches orders at most once per instruction.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd(), analyzeCmd(), monitorCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
