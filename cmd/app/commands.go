package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"TradeFusion/internal/di"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, quote feed, dispatch consumer and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := initialize(true)
			if err != nil {
				return err
			}
			defer cleanup()
			return app.Run()
		},
	}
}

func analyzeCmd() *cobra.Command {
	var (
		assets []string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis cycle and print the report",
		Example: `  tradefusion analyze --dry-run
  tradefusion analyze --assets BTC,ETH`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := initialize(false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, runErr := app.RunAnalysis(cmd.Context(), assets, dryRun)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringSliceVar(&assets, "assets", nil, "assets to analyze (default: configured assets)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decide and size without recording or publishing")
	return cmd
}

func monitorCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run one risk check over open positions and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := initialize(false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, runErr := app.RunRisk(cmd.Context(), dryRun)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate exits without persisting or publishing")
	return cmd
}

// initialize loads the config and wires the app. Only serve watches the file for changes.
func initialize(watch bool) (*server.App, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	path := di.ConfigPath("")
	if watch {
		path = di.ConfigPath(configPath)
	}
	app, cleanup, err := di.InitializeApp(cfg, path)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, cleanup, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
