// Package cli provides the command-line interface for the pattern tracker.
package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pattern-tracker/internal/config"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/logging"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "patterns",
		Short: "Chart pattern detection and lifecycle tracking",
		Long: `patterns detects chart and candlestick patterns in OHLCV data and tracks
each detected pattern from first sighting to completion or invalidation.

Candles are read from JSON or CSV files, or from the local candle store.
Lifecycle state is persisted to the configured repository and every
transition is emitted as a chart command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" && dir != app.Config.Dir {
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/pattern-tracker)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newEvaluateCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newStatesCmd(app))
	rootCmd.AddCommand(newSweepCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newLibraryCmd(app))
	rootCmd.AddCommand(newCandlesCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("patterns v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration and lifecycle rules.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config.Redacted())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rules",
		Short: "Show the effective lifecycle rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rules := lifecycle.LoadRuleConfig(app.Config.RulesPath(), app.Logger)
			if output.IsJSON() {
				return output.JSON(rules)
			}
			output.Bold("Lifecycle rules (%s)", app.Config.RulesPath())
			for _, line := range rules.Describe() {
				output.Printf("  %s\n", line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the rules template if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Clean(app.Config.RulesPath())
			if err := lifecycle.WriteRulesTemplate(path); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"rules": path})
			}
			output.Success("Rules template at %s", path)
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Detection")
	output.Printf("  Min Confidence:   %.0f%%\n", cfg.Detection.MinConfidence)
	output.Printf("  High Confidence:  %.0f%%\n", cfg.Detection.HighConfidence)
	output.Printf("  Max Confidence:   %.0f%%\n", cfg.Detection.MaxConfidence)
	output.Printf("  Multi-Timeframe:  %v (x%d)\n", cfg.Detection.MultiTimeframe, cfg.Detection.CoarseFactor)
	output.Printf("  Cache TTL:        %s\n", cfg.Detection.CacheTTL)
	output.Println()

	output.Bold("Lifecycle")
	output.Printf("  Confirm At:       %.0f%%\n", cfg.Lifecycle.ConfirmThreshold)
	output.Printf("  Max Misses:       %d\n", cfg.Lifecycle.MaxMisses)
	output.Printf("  Sweep Interval:   %s\n", cfg.Lifecycle.SweepInterval)
	output.Printf("  Sweep Max Age:    %.0fh\n", cfg.Lifecycle.SweepMaxAgeHours)
	output.Printf("  Rules File:       %s\n", cfg.RulesPath())
	output.Println()

	output.Bold("Storage")
	output.Printf("  Driver:           %s\n", cfg.Store.Driver)
	output.Printf("  SQLite Path:      %s\n", cfg.Store.SQLitePath)
	if cfg.Store.PostgresURL != "" {
		output.Printf("  Postgres URL:     %s\n", cfg.Store.PostgresURL)
	}
	output.Printf("  Redis Cache:      %v\n", cfg.Redis.Enabled)
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:          %s\n", cfg.Server.Address)
	output.Printf("  Allowed Origins:  %v\n", cfg.Server.AllowOrigins)
}
