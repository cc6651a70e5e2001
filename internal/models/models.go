// Package models provides the market data types shared by the analysis and lifecycle packages.
package models

import (
	"fmt"
	"math"
	"time"

	apperrors "pattern-tracker/internal/errors"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume,omitempty"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Body returns the absolute open/close distance.
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range returns the high/low distance.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Midpoint returns the middle of the candle body.
func (c Candle) Midpoint() float64 {
	return (c.Open + c.Close) / 2
}

// SessionLevels carries optional prior-session extremes supplied by the caller.
type SessionLevels struct {
	PriorHigh *float64 `json:"prior_high,omitempty"`
	PriorLow  *float64 `json:"prior_low,omitempty"`
}

// ValidateCandles checks ordering and price sanity of a series.
// Timestamps must be unique and strictly ascending; volume must not be negative.
func ValidateCandles(candles []Candle) error {
	for i, c := range candles {
		if c.High < c.Low {
			return apperrors.NewDataError("", i, fmt.Sprintf("high %.4f below low %.4f", c.High, c.Low), apperrors.ErrInvalidCandles)
		}
		if c.Volume < 0 {
			return apperrors.NewDataError("", i, "negative volume", apperrors.ErrInvalidCandles)
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return apperrors.NewDataError("", i, "timestamps must be unique and ascending", apperrors.ErrInvalidCandles)
		}
	}
	return nil
}

// Highs extracts high prices from candles.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices from candles.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Opens extracts open prices from candles.
func Opens(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Open
	}
	return out
}

// Closes extracts close prices from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes from candles.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Timestamps extracts bar times from candles.
func Timestamps(candles []Candle) []time.Time {
	out := make([]time.Time, len(candles))
	for i, c := range candles {
		out[i] = c.Timestamp
	}
	return out
}
