package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pattern-tracker/internal/api"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/stream"
)

func newSweepCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-evaluate persisted patterns and expire stale ones",
		Long: `Evaluate every active persisted pattern against the latest stored price,
then mark patterns older than --max-age hours as expired. With --watch the
sweep repeats on the configured interval until interrupted.`,
		Example: `  patterns sweep
  patterns sweep --max-age 24
  patterns sweep --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			maxAge, _ := cmd.Flags().GetFloat64("max-age")
			watch, _ := cmd.Flags().GetBool("watch")
			if maxAge <= 0 {
				maxAge = app.Config.Lifecycle.SweepMaxAgeHours
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := app.build(ctx); err != nil {
				return err
			}

			if watch {
				sweeper, err := lifecycle.NewSweeper(app.Manager, app.Config.Lifecycle.SweepInterval, maxAge, app.Logger)
				if err != nil {
					return err
				}
				output.Info("Sweeping every %s (max age %.0fh), Ctrl+C to stop", app.Config.Lifecycle.SweepInterval, maxAge)
				if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			res, err := app.Manager.Sweep(ctx, maxAge)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("Sweep complete: %d evaluated, %d updated, %d expired", res.Evaluated, res.Updated, res.Expired)
			return nil
		},
	}
	cmd.Flags().Float64("max-age", 0, "expire patterns older than this many hours (default from config)")
	cmd.Flags().Bool("watch", false, "keep sweeping on the configured interval")
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the chart command feed",
		Long: `Start the HTTP API with the websocket chart command feed at /ws/commands.
A background sweeper re-evaluates persisted patterns on the configured interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			address, _ := cmd.Flags().GetString("address")
			noSweep, _ := cmd.Flags().GetBool("no-sweep")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.build(ctx); err != nil {
				return err
			}
			app.Hub.Start(ctx)
			defer app.Hub.Stop()
			app.Hub.RegisterConsumer(stream.NewConsumerFunc(nil, func(msg stream.Message) {
				app.Logger.Debug().
					Str("symbol", msg.Symbol).
					Str("timeframe", msg.Timeframe).
					Int("commands", len(msg.Commands)).
					Msg("Chart commands published")
			}))

			if !noSweep {
				sweeper, err := lifecycle.NewSweeper(app.Manager, app.Config.Lifecycle.SweepInterval, app.Config.Lifecycle.SweepMaxAgeHours, app.Logger)
				if err != nil {
					return err
				}
				go func() {
					if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						app.Logger.Error().Err(err).Msg("Sweeper stopped")
					}
				}()
			}

			srvCfg := api.ServerConfig{
				Address:          app.Config.Server.Address,
				ProductionMode:   app.Config.Server.ProductionMode,
				AllowOrigins:     app.Config.Server.AllowOrigins,
				ShutdownTimeout:  app.Config.Server.ShutdownTimeout,
				SweepMaxAgeHours: app.Config.Lifecycle.SweepMaxAgeHours,
			}
			if address != "" {
				srvCfg.Address = address
			}
			server, err := api.NewServer(srvCfg, api.Deps{
				Tracker: app.Tracker,
				Library: app.Library,
				Rules:   app.Rules,
				Hub:     app.Hub,
			}, app.Logger)
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().String("address", "", "listen address (default from config)")
	cmd.Flags().Bool("no-sweep", false, "disable the background sweeper")
	return cmd
}
