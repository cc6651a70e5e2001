package models

import (
	"time"

	apperrors "pattern-tracker/internal/errors"
)

// Timeframe is a chart interval label.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1H  Timeframe = "1H"
	Timeframe2H  Timeframe = "2H"
	Timeframe4H  Timeframe = "4H"
	Timeframe1d  Timeframe = "1d"
	Timeframe1wk Timeframe = "1wk"
	Timeframe1mo Timeframe = "1mo"
	Timeframe1y  Timeframe = "1y"
)

var timeframeIntervals = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1H:  time.Hour,
	Timeframe2H:  2 * time.Hour,
	Timeframe4H:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1wk: 7 * 24 * time.Hour,
	Timeframe1mo: 30 * 24 * time.Hour,
	Timeframe1y:  365 * 24 * time.Hour,
}

// AllTimeframes lists the supported labels from finest to coarsest.
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1H, Timeframe2H, Timeframe4H,
	Timeframe1d, Timeframe1wk, Timeframe1mo, Timeframe1y,
}

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeIntervals[tf]; !ok {
		return "", apperrors.Wrapf(apperrors.ErrUnknownTimeframe, "%q", s)
	}
	return tf, nil
}

// Interval returns the nominal bar duration.
func (tf Timeframe) Interval() time.Duration {
	return timeframeIntervals[tf]
}

// IsIntraday reports whether the timeframe is shorter than an hour.
func (tf Timeframe) IsIntraday() bool {
	d, ok := timeframeIntervals[tf]
	return ok && d < time.Hour
}

// IsDailyOrHigher reports whether bars span at least one day.
func (tf Timeframe) IsDailyOrHigher() bool {
	return timeframeIntervals[tf] >= 24*time.Hour
}

// Profile holds the sensitivity parameters that adapt to the chart interval.
type Profile struct {
	PivotWindow  int     // left and right bars compared against a pivot candidate
	TolerancePct float64 // trendline touch tolerance, percent of price
	MinTouches   int
}

// shortSeriesBars is the length below which touch requirements are relaxed.
const shortSeriesBars = 60

// ProfileFor returns the adaptive parameters for a timeframe and series length.
// Intraday charts use narrow windows and loose tolerances; daily and higher use the strictest settings.
func ProfileFor(tf Timeframe, bars int) Profile {
	var p Profile
	switch {
	case tf.IsIntraday():
		p = Profile{PivotWindow: 3, TolerancePct: 0.8, MinTouches: 2}
	case tf.IsDailyOrHigher():
		p = Profile{PivotWindow: 5, TolerancePct: 0.5, MinTouches: 3}
	default:
		p = Profile{PivotWindow: 4, TolerancePct: 0.6, MinTouches: 3}
	}
	if bars < shortSeriesBars && p.MinTouches > 2 {
		p.MinTouches = 2
	}
	return p
}
