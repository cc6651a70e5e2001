// Package testutil builds candle series for tests.
package testutil

import (
	"math"
	"reflect"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"

	"pattern-tracker/internal/models"
)

// Epoch is the timestamp of the first generated bar.
var Epoch = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

// Bar builds a candle at index i of an hourly series.
func Bar(i int, open, high, low, close, volume float64) models.Candle {
	return models.Candle{
		Timestamp: Epoch.Add(time.Duration(i) * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

// FromCloses builds an hourly series where each bar opens at the previous close.
// Highs and lows extend a quarter percent beyond the body.
func FromCloses(closes []float64, volume float64) []models.Candle {
	if len(closes) == 0 {
		return nil
	}
	out := make([]models.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi := math.Max(prev, c) * 1.0025
		lo := math.Min(prev, c) * 0.9975
		out[i] = Bar(i, prev, hi, lo, c, volume)
		prev = c
	}
	return out
}

// Walk turns percent steps into a close series starting at 100.
func Walk(steps []float64) []float64 {
	closes := make([]float64, len(steps)+1)
	closes[0] = 100
	for i, s := range steps {
		next := closes[i] * (1 + s/100)
		if next < 1 {
			next = 1
		}
		closes[i+1] = next
	}
	return closes
}

// Flat returns n bars at a constant price.
func Flat(n int, price, volume float64) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return FromCloses(closes, volume)
}

// CandleSeriesGen generates random-walk candle series with length in [minLen, maxLen].
func CandleSeriesGen(minLen, maxLen int) gopter.Gen {
	return gen.IntRange(minLen, maxLen).FlatMap(func(v interface{}) gopter.Gen {
		n := v.(int)
		return gen.SliceOfN(n, gen.Float64Range(-3, 3)).Map(func(steps []float64) []models.Candle {
			if len(steps) == 0 {
				return nil
			}
			closes := Walk(steps)
			if len(closes) > n {
				closes = closes[:n]
			}
			candles := FromCloses(closes, 1000)
			for i := range candles {
				candles[i].Volume = 1000 + math.Abs(steps[i%len(steps)])*500
			}
			return candles
		})
	}, reflect.TypeOf([]models.Candle{}))
}
