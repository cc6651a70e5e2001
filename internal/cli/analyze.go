package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/pipeline"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/models"
	"pattern-tracker/pkg/utils"
)

const commandTimeout = 60 * time.Second

// addInputFlags registers the flags shared by analyze and evaluate.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("symbol", "s", "", "symbol (overrides the file)")
	cmd.Flags().StringP("timeframe", "t", "", "timeframe, e.g. 15m, 1H, 1d (overrides the file)")
	cmd.Flags().String("long", "", "longer-horizon candle file for the 200 SMA")
	cmd.Flags().Bool("from-store", false, "read candles from the local candle store instead of a file")
	cmd.Flags().Int("bars", 500, "most recent stored candles to analyze with --from-store")
}

// loadRequest builds an analysis request from a candle file or the candle store.
func loadRequest(ctx context.Context, cmd *cobra.Command, app *App, args []string) (pipeline.Request, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	timeframe, _ := cmd.Flags().GetString("timeframe")
	longPath, _ := cmd.Flags().GetString("long")
	fromStore, _ := cmd.Flags().GetBool("from-store")

	var file *candleFile
	if fromStore {
		bars, _ := cmd.Flags().GetInt("bars")
		if symbol == "" || timeframe == "" {
			return pipeline.Request{}, apperrors.NewValidationError("symbol", symbol, "--from-store needs --symbol and --timeframe")
		}
		candles, err := app.openCandles()
		if err != nil {
			return pipeline.Request{}, err
		}
		series, err := candles.GetCandles(ctx, strings.ToUpper(symbol), timeframe, time.Time{}, time.Now())
		if err != nil {
			return pipeline.Request{}, err
		}
		if bars > 0 && len(series) > bars {
			series = series[len(series)-bars:]
		}
		file = &candleFile{Candles: series}
	} else {
		if len(args) == 0 {
			return pipeline.Request{}, apperrors.NewValidationError("file", "", "a candle file is required unless --from-store is set")
		}
		var err error
		if file, err = loadCandleFile(args[0]); err != nil {
			return pipeline.Request{}, err
		}
	}

	sym, tf, err := resolveSeries(file, symbol, timeframe)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Symbol:    sym,
		Timeframe: tf,
		Candles:   file.Candles,
		Long:      file.Long,
		Session:   file.Session,
	}
	if longPath != "" {
		long, err := loadCandleFile(longPath)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.Long = long.Candles
	}
	return req, nil
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Detect patterns, levels and trendlines in a candle series",
		Long: `Run one analysis cycle over a candle series:
- Swing pivots (with optional coarser-timeframe merge)
- Support/resistance and trendlines
- Key levels (moving averages, prior session, VWAP)
- Chart and candlestick patterns with confidence scores

Candles come from a JSON or CSV file, or from the candle store.`,
		Example: `  patterns analyze data/acme_1h.json
  patterns analyze acme.csv --symbol ACME --timeframe 1H
  patterns analyze --from-store --symbol ACME --timeframe 1d --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			req, err := loadRequest(ctx, cmd, app, args)
			if err != nil {
				return err
			}
			if err := app.build(ctx); err != nil {
				return err
			}
			res, err := app.Tracker.Analyzer().Analyze(ctx, req)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			printAnalysis(output, res)
			return nil
		},
	}
	addInputFlags(cmd)
	return cmd
}

func newEvaluateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [file]",
		Short: "Analyze a series and advance tracked pattern lifecycles",
		Long: `Analyze a candle series, reconcile the detections with the tracked
patterns for the symbol and timeframe, and apply the lifecycle rules at the
current price. Transitions are persisted and printed as chart commands.`,
		Example: `  patterns evaluate data/acme_1h.json
  patterns evaluate acme.csv -s ACME -t 1H --price 104.2 --save-candles`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			price, _ := cmd.Flags().GetFloat64("price")
			save, _ := cmd.Flags().GetBool("save-candles")

			req, err := loadRequest(ctx, cmd, app, args)
			if err != nil {
				return err
			}
			if err := app.build(ctx); err != nil {
				return err
			}
			if save {
				candles, err := app.openCandles()
				if err != nil {
					return err
				}
				if err := candles.SaveCandles(ctx, req.Symbol, string(req.Timeframe), req.Candles); err != nil {
					return err
				}
			}

			report, err := app.Tracker.Evaluate(ctx, req, price)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			printAnalysis(output, report.Analysis)
			output.Println()
			printStates(output, report.Lifecycle.States)
			if len(report.Lifecycle.Transitions) > 0 {
				output.Println()
				output.Bold("Transitions")
				for _, tr := range report.Lifecycle.Transitions {
					output.Printf("  %s: %s -> %s (%s)\n", tr.PatternID, output.StatusText(tr.From), output.StatusText(tr.To), tr.Reason)
				}
			}
			if len(report.Lifecycle.Commands) > 0 {
				output.Println()
				output.Bold("Chart commands")
				for _, c := range report.Lifecycle.Commands {
					output.Printf("  %s\n", c)
				}
			}
			return nil
		},
	}
	addInputFlags(cmd)
	cmd.Flags().Float64P("price", "p", 0, "current price (default: last close)")
	cmd.Flags().Bool("save-candles", false, "store the input candles for later sweeps")
	return cmd
}

func newStatesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "states <symbol>",
		Short: "List active tracked patterns from the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			timeframe, _ := cmd.Flags().GetString("timeframe")
			if timeframe != "" {
				if _, err := models.ParseTimeframe(timeframe); err != nil {
					return err
				}
			}
			if err := app.openRepository(ctx); err != nil {
				return err
			}
			records, err := app.Repository.GetActive(ctx, strings.ToUpper(args[0]), timeframe)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No active patterns for %s", strings.ToUpper(args[0]))
				return nil
			}
			table := NewTable(output, "Pattern", "TF", "Type", "Status", "Conf", "Bias", "Target", "Age")
			for _, rec := range records {
				table.AddRow(
					utils.Truncate(rec.PatternID, 32),
					rec.Timeframe,
					rec.PatternType,
					output.StatusText(rec.Status),
					utils.FormatConfidence(rec.Confidence),
					output.BiasText(analysis.Bias(rec.Bias)),
					optionalPrice(rec.Target),
					time.Since(rec.CreatedAt).Truncate(time.Minute).String(),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringP("timeframe", "t", "", "restrict to one timeframe")
	return cmd
}

func printAnalysis(output *Output, res *pipeline.AnalysisResult) {
	output.Bold("%s %s  last %s", res.Symbol, res.Timeframe, utils.FormatPrice(res.LastPrice))
	output.Println(res.Summary)
	output.Println()

	if len(res.Patterns) == 0 {
		output.Dim("No patterns detected")
	} else {
		table := NewTable(output, "Pattern", "Category", "Conf", "Bias", "Action", "Target", "Stop")
		for _, p := range res.Patterns {
			table.AddRow(
				string(p.Type),
				string(p.Category),
				utils.FormatConfidence(p.Confidence),
				output.BiasText(p.Bias),
				string(p.Action),
				optionalPrice(p.Target),
				optionalPrice(p.StopLoss),
			)
		}
		table.Render()
	}

	var lines []string
	for _, s := range res.Supports {
		lines = append(lines, "support    "+utils.FormatPrice(s.Price)+"  x"+strconv.Itoa(s.TouchCount))
	}
	for _, r := range res.Resistances {
		lines = append(lines, "resistance "+utils.FormatPrice(r.Price)+"  x"+strconv.Itoa(r.TouchCount))
	}
	for _, k := range res.KeyLevels {
		lines = append(lines, k.Label+" "+utils.FormatPrice(k.Price))
	}
	if len(lines) > 0 {
		output.Println()
		output.Box("Levels", lines)
	}
}

func printStates(output *Output, states []lifecycle.PatternState) {
	if len(states) == 0 {
		output.Dim("No tracked patterns")
		return
	}
	table := NewTable(output, "Pattern", "Status", "Conf", "Misses", "Reason")
	for _, st := range states {
		table.AddRow(
			utils.Truncate(st.PatternID, 32),
			output.StatusText(st.Status),
			utils.FormatConfidence(st.Confidence),
			strconv.Itoa(st.MissCount),
			st.Reason,
		)
	}
	table.Render()
}

func optionalPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return utils.FormatPrice(*p)
}
