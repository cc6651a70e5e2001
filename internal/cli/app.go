package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis/patterns"
	"pattern-tracker/internal/analysis/pipeline"
	"pattern-tracker/internal/cache"
	"pattern-tracker/internal/config"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/library"
	"pattern-tracker/internal/resilience"
	"pattern-tracker/internal/store"
	"pattern-tracker/internal/stream"
	"pattern-tracker/pkg/utils"
)

// App holds the application dependencies. Components are built on first use so
// commands that need none of them start instantly.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Repository store.PatternRepository
	Candles    *store.SQLiteStore
	Library    *library.Library
	Rules      lifecycle.RuleSet
	Hub        *stream.Hub
	Manager    *lifecycle.Manager
	Tracker    *pipeline.Tracker

	closers []func() error
}

// openRepository opens the configured pattern repository, retrying while the
// backend is unreachable.
func (a *App) openRepository(ctx context.Context) error {
	if a.Repository != nil {
		return nil
	}
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool {
		return errors.Is(err, apperrors.ErrRepositoryUnavailable)
	}

	repo, err := utils.RetryWithResult(ctx, retry, func(ctx context.Context) (store.PatternRepository, error) {
		return store.Open(ctx, a.Config.Store)
	})
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.Config.Store.Driver, err)
	}
	a.closers = append(a.closers, repo.Close)
	if sq, ok := repo.(*store.SQLiteStore); ok {
		a.Candles = sq
	}
	a.Repository = store.NewGuardedRepository(repo, resilience.NewCircuitBreaker("repository", a.Config.Breaker))
	a.Logger.Debug().Str("driver", a.Config.Store.Driver).Msg("Pattern repository opened")
	return nil
}

// openCandles opens the SQLite candle store, sharing the repository database when it is SQLite.
func (a *App) openCandles() (*store.SQLiteStore, error) {
	if a.Candles != nil {
		return a.Candles, nil
	}
	sq, err := store.NewSQLiteStore(a.Config.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.Candles = sq
	a.closers = append(a.closers, sq.Close)
	return sq, nil
}

// loadLibrary loads the knowledge base. Load failures are fatal unless the
// library is disabled in config.
func (a *App) loadLibrary() error {
	if a.Library != nil || !a.Config.Library.Enabled {
		return nil
	}
	lib, err := library.Load(a.Config.Library.Path)
	if err != nil {
		return err
	}
	a.Library = lib
	a.Logger.Debug().Int("entries", lib.Len()).Msg("Pattern library loaded")
	return nil
}

func (a *App) resultCache() cache.Cache {
	ttl := a.Config.Detection.CacheTTL
	if ttl <= 0 {
		return nil
	}
	if a.Config.Redis.Enabled {
		rc, err := cache.NewRedisCache(a.Config.Redis, ttl, a.Logger)
		if err == nil {
			a.closers = append(a.closers, rc.Close)
			return rc
		}
		a.Logger.Warn().Err(err).Msg("Redis cache unavailable, using in-process cache")
	}
	return cache.NewMemoryCache(ttl)
}

// build wires the detector, analyzer, lifecycle manager and hub.
func (a *App) build(ctx context.Context) error {
	if a.Tracker != nil {
		return nil
	}
	if err := a.loadLibrary(); err != nil {
		return err
	}
	if err := a.openRepository(ctx); err != nil {
		return err
	}
	if a.Rules == nil {
		a.Rules = lifecycle.LoadRuleConfig(a.Config.RulesPath(), a.Logger)
	}
	if a.Hub == nil {
		a.Hub = stream.NewHubWithConfig(a.Config.Stream, a.Logger)
	}

	detOpts := []patterns.Option{patterns.WithLogger(a.Logger)}
	if a.Library != nil {
		detOpts = append(detOpts, patterns.WithEnricher(a.Library))
	}
	detector, err := patterns.NewDetector(a.Config.DetectorConfig(), detOpts...)
	if err != nil {
		return err
	}

	anOpts := []pipeline.Option{pipeline.WithLogger(a.Logger)}
	if c := a.resultCache(); c != nil {
		anOpts = append(anOpts, pipeline.WithCache(c))
	}
	analyzer := pipeline.NewAnalyzer(a.Config.PipelineConfig(), detector, anOpts...)

	mgrOpts := []lifecycle.Option{
		lifecycle.WithRepository(a.Repository),
		lifecycle.WithCommandSink(a.Hub),
		lifecycle.WithLogger(a.Logger),
	}
	if candles, err := a.openCandles(); err == nil {
		mgrOpts = append(mgrOpts, lifecycle.WithPriceSource(candles))
	} else {
		a.Logger.Warn().Err(err).Msg("Candle store unavailable, sweeps use last seen prices")
	}
	manager, err := lifecycle.NewManager(a.Config.ManagerConfig(), lifecycle.NewRuleEngine(a.Rules), mgrOpts...)
	if err != nil {
		return err
	}

	a.Manager = manager
	a.Tracker = pipeline.NewTracker(analyzer, manager, a.Hub)
	return nil
}

// Close releases every opened resource.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
