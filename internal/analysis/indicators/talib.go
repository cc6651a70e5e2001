// Package indicators wraps the moving-average and range indicators used by the detectors.
package indicators

import (
	talib "github.com/markcheno/go-talib"

	"pattern-tracker/internal/models"
)

// SMALast returns the latest simple moving average of closes over period bars.
// ok is false when the series is shorter than period.
func SMALast(candles []models.Candle, period int) (value float64, ok bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	sma := talib.Sma(models.Closes(candles), period)
	return sma[len(sma)-1], true
}

// ATR returns the average true range series. Entries before the first full window are zero.
func ATR(candles []models.Candle, period int) []float64 {
	if period <= 0 || len(candles) <= period {
		return make([]float64, len(candles))
	}
	return talib.Atr(models.Highs(candles), models.Lows(candles), models.Closes(candles), period)
}

// ATRAt returns the ATR value at index i, falling back to the mean true range of the
// available prefix when the full window has not formed yet.
func ATRAt(candles []models.Candle, atr []float64, i int) float64 {
	if i < len(atr) && atr[i] > 0 {
		return atr[i]
	}
	var total float64
	var n int
	for j := 1; j <= i && j < len(candles); j++ {
		total += TrueRange(candles[j], candles[j-1])
		n++
	}
	if n == 0 {
		if i < len(candles) {
			return candles[i].Range()
		}
		return 0
	}
	return total / float64(n)
}

// TrueRange calculates the true range for a candle.
func TrueRange(current, previous models.Candle) float64 {
	highLow := current.High - current.Low
	highClose := current.High - previous.Close
	if highClose < 0 {
		highClose = -highClose
	}
	lowClose := current.Low - previous.Close
	if lowClose < 0 {
		lowClose = -lowClose
	}
	return max(highLow, max(highClose, lowClose))
}

// AverageVolume returns the mean volume of the lookback bars ending before index end.
func AverageVolume(candles []models.Candle, end, lookback int) float64 {
	start := end - lookback
	if start < 0 {
		start = 0
	}
	if end > len(candles) {
		end = len(candles)
	}
	if end <= start {
		return 0
	}
	return Mean(models.Volumes(candles[start:end]))
}

// VolumeRatio compares the volume at index i to the trailing average before it.
// A series without volume reports 1.
func VolumeRatio(candles []models.Candle, i, lookback int) float64 {
	if i < 0 || i >= len(candles) {
		return 1
	}
	avg := AverageVolume(candles, i, lookback)
	if avg <= 0 {
		if candles[i].Volume > 0 {
			return 2
		}
		return 1
	}
	return candles[i].Volume / avg
}
