package cli

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/pipeline"
	"pattern-tracker/internal/performance"
	"pattern-tracker/pkg/utils"
)

// ScanRow is the outcome of analyzing one file.
type ScanRow struct {
	File      string            `json:"file"`
	Symbol    string            `json:"symbol,omitempty"`
	Timeframe string            `json:"timeframe,omitempty"`
	LastPrice float64           `json:"last_price,omitempty"`
	Top       *analysis.Pattern `json:"top_pattern,omitempty"`
	Count     int               `json:"patterns"`
	High      int               `json:"high_confidence"`
	Error     string            `json:"error,omitempty"`
}

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <file>...",
		Short: "Analyze many candle files concurrently and rank them",
		Long: `Analyze each candle file on a pool of workers and list the strongest
pattern per file, highest confidence first. Files that fail to load or analyze
are reported with their error.`,
		Example: `  patterns scan data/*.json
  patterns scan data/*.csv --timeframe 1d --workers 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			timeframe, _ := cmd.Flags().GetString("timeframe")
			workers, _ := cmd.Flags().GetInt("workers")

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			if err := app.build(ctx); err != nil {
				return err
			}
			analyzer := app.Tracker.Analyzer()

			rows, err := performance.Map(ctx, workers, args, func(ctx context.Context, path string) ScanRow {
				return scanFile(ctx, analyzer, path, timeframe)
			})
			if err != nil {
				return err
			}
			rankScanRows(rows)

			if output.IsJSON() {
				return output.JSON(rows)
			}
			table := NewTable(output, "File", "Symbol", "Last", "Patterns", "Top", "Conf", "Bias")
			for _, r := range rows {
				if r.Error != "" {
					table.AddRow(filepath.Base(r.File), "-", "-", "-", output.ColoredString(ColorRed, utils.Truncate(r.Error, 48)), "-", "-")
					continue
				}
				top, conf, bias := "-", "-", "-"
				if r.Top != nil {
					top = string(r.Top.Type)
					conf = utils.FormatConfidence(r.Top.Confidence)
					bias = output.BiasText(r.Top.Bias)
				}
				table.AddRow(filepath.Base(r.File), r.Symbol, utils.FormatPrice(r.LastPrice), strconv.Itoa(r.Count), top, conf, bias)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringP("timeframe", "t", "", "timeframe for files that do not name one")
	cmd.Flags().IntP("workers", "w", 0, "concurrent workers (default: number of CPUs)")
	return cmd
}

func scanFile(ctx context.Context, analyzer *pipeline.Analyzer, path, timeframe string) ScanRow {
	row := ScanRow{File: path}
	file, err := loadCandleFile(path)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	symbol := file.Symbol
	if symbol == "" {
		symbol = trimExt(filepath.Base(path))
	}
	sym, tf, err := resolveSeries(file, symbol, firstNonEmpty(file.Timeframe, timeframe))
	if err != nil {
		row.Error = err.Error()
		return row
	}

	res, err := analyzer.Analyze(ctx, pipeline.Request{
		Symbol:    sym,
		Timeframe: tf,
		Candles:   file.Candles,
		Long:      file.Long,
		Session:   file.Session,
	})
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Symbol = res.Symbol
	row.Timeframe = string(res.Timeframe)
	row.LastPrice = res.LastPrice
	row.Count = len(res.Patterns)
	row.High = len(res.HighConfidence)
	for i := range res.Patterns {
		if row.Top == nil || res.Patterns[i].Confidence > row.Top.Confidence {
			top := res.Patterns[i]
			row.Top = &top
		}
	}
	return row
}

// rankScanRows orders rows by top confidence, then file name. Failed rows go last.
func rankScanRows(rows []ScanRow) {
	conf := func(r ScanRow) float64 {
		if r.Top == nil {
			return -1
		}
		return r.Top.Confidence
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.Error == "") != (b.Error == "") {
			return a.Error == ""
		}
		if conf(a) != conf(b) {
			return conf(a) > conf(b)
		}
		return a.File < b.File
	})
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
