package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/pkg/utils"
)

// candleFile is the JSON input format. A bare array of candles is also accepted.
type candleFile struct {
	Symbol    string                `json:"symbol"`
	Timeframe string                `json:"timeframe"`
	Candles   []models.Candle       `json:"candles"`
	Long      []models.Candle       `json:"long,omitempty"`
	Session   *models.SessionLevels `json:"session,omitempty"`
}

// csvCandle is one CSV row. Timestamps are kept as text so several layouts parse.
type csvCandle struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseCandleTime accepts RFC 3339, common date layouts and unix seconds.
func parseCandleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// loadCandleFile reads candles from a JSON or CSV file, chosen by extension.
func loadCandleFile(path string) (*candleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading candles: %w", err)
	}

	var file *candleFile
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		file, err = decodeCSVCandles(data)
	} else {
		file, err = decodeJSONCandles(data)
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "decoding %s", filepath.Base(path))
	}
	if len(file.Candles) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInsufficientData, "%s contains no candles", filepath.Base(path))
	}
	return file, nil
}

func decodeJSONCandles(data []byte) (*candleFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var candles []models.Candle
		if err := json.Unmarshal(trimmed, &candles); err != nil {
			return nil, err
		}
		return &candleFile{Candles: candles}, nil
	}
	var file candleFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func decodeCSVCandles(data []byte) (*candleFile, error) {
	var rows []*csvCandle
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, err
	}
	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseCandleTime(row.Time)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return &candleFile{Candles: candles}, nil
}

// resolveSeries applies flag overrides to a loaded file and validates the result.
func resolveSeries(file *candleFile, symbol, timeframe string) (string, models.Timeframe, error) {
	if symbol == "" {
		symbol = file.Symbol
	}
	if timeframe == "" {
		timeframe = file.Timeframe
	}
	if symbol == "" {
		return "", "", apperrors.NewValidationError("symbol", "", "a symbol is required (flag or file)")
	}
	tf, err := models.ParseTimeframe(timeframe)
	if err != nil {
		return "", "", err
	}
	if err := models.ValidateCandles(file.Candles); err != nil {
		return "", "", err
	}
	return strings.ToUpper(symbol), tf, nil
}

func newCandlesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candles",
		Short: "Manage the local candle store",
		Long:  "Import candles into the SQLite candle store used by sweeps and --from-store analysis.",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import candles from a JSON or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")

			file, err := loadCandleFile(args[0])
			if err != nil {
				return err
			}
			symbol, tf, err := resolveSeries(file, symbol, timeframe)
			if err != nil {
				return err
			}
			candles, err := app.openCandles()
			if err != nil {
				return err
			}
			if err := candles.SaveCandles(cmd.Context(), symbol, string(tf), file.Candles); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": tf,
					"imported":  len(file.Candles),
				})
			}
			output.Success("Imported %d %s candles for %s", len(file.Candles), tf, symbol)
			return nil
		},
	}
	importCmd.Flags().StringP("symbol", "s", "", "symbol (overrides the file)")
	importCmd.Flags().StringP("timeframe", "t", "", "timeframe (overrides the file)")

	showCmd := &cobra.Command{
		Use:   "show <symbol>",
		Short: "Show stored candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			timeframe, _ := cmd.Flags().GetString("timeframe")
			limit, _ := cmd.Flags().GetInt("limit")

			tf, err := models.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			store, err := app.openCandles()
			if err != nil {
				return err
			}
			symbol := strings.ToUpper(args[0])
			candles, err := store.GetCandles(cmd.Context(), symbol, string(tf), time.Time{}, time.Now())
			if err != nil {
				return err
			}
			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}
			fresh, err := store.GetCandlesFreshness(cmd.Context(), symbol, string(tf))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":     symbol,
					"timeframe":  tf,
					"updated_at": fresh,
					"candles":    candles,
				})
			}
			if len(candles) == 0 {
				output.Warning("No %s candles stored for %s", tf, symbol)
				return nil
			}
			output.Bold("%s %s (updated %s)", symbol, tf, fresh.Format(time.RFC3339))
			table := NewTable(output, "Time", "Open", "High", "Low", "Close", "Volume")
			for _, c := range candles {
				table.AddRow(
					c.Timestamp.Format("2006-01-02 15:04"),
					utils.FormatPrice(c.Open),
					utils.FormatPrice(c.High),
					utils.FormatPrice(c.Low),
					utils.FormatPrice(c.Close),
					strconv.FormatFloat(c.Volume, 'f', 0, 64),
				)
			}
			table.Render()
			return nil
		},
	}
	showCmd.Flags().StringP("timeframe", "t", "1d", "timeframe")
	showCmd.Flags().IntP("limit", "n", 20, "most recent candles to show (0 for all)")

	cmd.AddCommand(importCmd, showCmd)
	return cmd
}
