// Package pipeline runs one full analysis cycle over a candle series: pivots, trendlines,
// support and resistance, key levels, pattern detection and the summary.
package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/patterns"
	"pattern-tracker/internal/analysis/structure"
	"pattern-tracker/internal/cache"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/logging"
	"pattern-tracker/internal/models"
)

// Config controls the structural stages of the cycle.
type Config struct {
	MultiTimeframe bool
	CoarseFactor   int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{MultiTimeframe: true, CoarseFactor: 4}
}

// Request is the input to one analysis cycle.
type Request struct {
	Symbol    string
	Timeframe models.Timeframe
	Candles   []models.Candle
	Long      []models.Candle       // longer-horizon series for the 200 SMA, optional
	Session   *models.SessionLevels // prior session high/low, optional
}

// AnalysisResult is the output of one cycle.
type AnalysisResult struct {
	Symbol         string               `json:"symbol"`
	Timeframe      models.Timeframe     `json:"timeframe"`
	LastPrice      float64              `json:"last_price"`
	Patterns       []analysis.Pattern   `json:"patterns"`
	HighConfidence []analysis.Pattern   `json:"high_confidence"`
	Supports       []analysis.Level     `json:"supports"`
	Resistances    []analysis.Level     `json:"resistances"`
	Trendlines     []analysis.Trendline `json:"trendlines"`
	KeyLevels      []analysis.KeyLevel  `json:"key_levels"`
	Pivots         structure.PivotSet   `json:"pivots"`
	Summary        string               `json:"summary"`
	ComputedAt     time.Time            `json:"computed_at"`
	Cached         bool                 `json:"cached"`
}

// Analyzer runs analysis cycles. It is safe for concurrent use.
type Analyzer struct {
	cfg      Config
	detector *patterns.Detector
	cache    cache.Cache
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithLogger sets the analyzer logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// WithClock replaces the wall clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer around a pattern detector.
func NewAnalyzer(cfg Config, detector *patterns.Detector, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:      cfg,
		detector: detector,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CacheKey identifies a request by symbol, timeframe, the covered input range and a
// fingerprint of every other input that reaches the result: the last bar, the
// prior-session levels and the longer-horizon series.
func CacheKey(req Request) string {
	n := len(req.Candles)
	if n == 0 {
		return fmt.Sprintf("%s|%s|empty", req.Symbol, req.Timeframe)
	}
	return fmt.Sprintf("%s|%s|%d|%d|%d|%016x", req.Symbol, req.Timeframe,
		req.Candles[0].Timestamp.Unix(), req.Candles[n-1].Timestamp.Unix(), n, fingerprint(req))
}

func fingerprint(req Request) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putBar := func(c models.Candle) {
		putInt(c.Timestamp.UnixNano())
		putFloat(c.Open)
		putFloat(c.High)
		putFloat(c.Low)
		putFloat(c.Close)
		putFloat(c.Volume)
	}
	putOptional := func(p *float64) {
		if p == nil {
			h.Write([]byte{0})
			return
		}
		h.Write([]byte{1})
		putFloat(*p)
	}

	putBar(req.Candles[len(req.Candles)-1])
	if req.Session == nil {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		putOptional(req.Session.PriorHigh)
		putOptional(req.Session.PriorLow)
	}
	putInt(int64(len(req.Long)))
	for _, c := range req.Long {
		putBar(c)
	}
	return h.Sum64()
}

// Analyze runs one cycle, serving from the cache when a fresh result exists.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*AnalysisResult, error) {
	if len(req.Candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s", apperrors.ErrInsufficientData, req.Symbol, req.Timeframe)
	}
	if _, err := models.ParseTimeframe(string(req.Timeframe)); err != nil {
		return nil, err
	}
	if err := models.ValidateCandles(req.Candles); err != nil {
		return nil, err
	}

	logger := logging.WithTimeframe(a.logger, req.Symbol, string(req.Timeframe))
	key := CacheKey(req)

	if a.cache != nil {
		if res, ok := a.fromCache(ctx, key, logger); ok {
			return res, nil
		}
	}

	res := a.compute(req)

	if a.cache != nil {
		data, err := json.Marshal(res)
		if err == nil {
			err = a.cache.Set(ctx, key, data)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to cache analysis result")
		}
	}

	logger.Debug().
		Int("patterns", len(res.Patterns)).
		Int("high_confidence", len(res.HighConfidence)).
		Int("trendlines", len(res.Trendlines)).
		Msg("Analysis complete")
	return res, nil
}

func (a *Analyzer) fromCache(ctx context.Context, key string, logger zerolog.Logger) (*AnalysisResult, bool) {
	entry, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Result cache read failed")
		}
		return nil, false
	}
	var res AnalysisResult
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		logger.Warn().Err(err).Msg("Discarding undecodable cached result")
		return nil, false
	}
	res.Cached = true
	res.ComputedAt = entry.ComputedAt
	return &res, true
}

func (a *Analyzer) compute(req Request) *AnalysisResult {
	candles := req.Candles
	last := candles[len(candles)-1]
	profile := models.ProfileFor(req.Timeframe, len(candles))

	pivotCfg := structure.DefaultPivotConfig(profile)
	pivotCfg.MultiTimeframe = a.cfg.MultiTimeframe
	if a.cfg.CoarseFactor > 1 {
		pivotCfg.CoarseFactor = a.cfg.CoarseFactor
	}
	pivots := structure.NewPivotDetector(pivotCfg).Detect(candles, req.Timeframe.Interval())

	trendlines := structure.NewTrendlineBuilder(structure.DefaultTrendlineConfig(profile)).BuildAll(pivots, candles)
	levels := structure.NewLevelAnalyzer().Analyze(pivots, last.Close)
	keyLevels := structure.NewKeyLevelsGenerator(structure.DefaultKeyLevelConfig()).Generate(structure.KeyLevelInput{
		Candles:   candles,
		Pivots:    pivots,
		Long:      req.Long,
		Session:   req.Session,
		Timeframe: req.Timeframe,
	})

	detected := a.detector.Detect(candles)

	res := &AnalysisResult{
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		LastPrice:      last.Close,
		Patterns:       detected.Patterns,
		HighConfidence: detected.HighConfidence,
		Supports:       levels.Supports,
		Resistances:    levels.Resistances,
		Trendlines:     trendlines,
		KeyLevels:      keyLevels,
		Pivots:         pivots,
		ComputedAt:     a.now(),
	}
	res.Summary = Summarize(res)
	return res
}
