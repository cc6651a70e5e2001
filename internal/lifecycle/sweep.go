package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/logging"
	"pattern-tracker/internal/models"
)

// SweepResult reports one sweep pass.
type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Updated   int `json:"updated"`
	Expired   int `json:"expired"`
}

// Sweep expires persisted patterns older than maxAgeHours in bulk, then runs the
// rules over the remaining active records. In-memory states follow the outcome.
// Re-running a sweep is a no-op for patterns it already retired.
func (m *Manager) Sweep(ctx context.Context, maxAgeHours float64) (SweepResult, error) {
	logger := logging.WithOperation(m.logger, "sweep")
	now := m.now()
	var res SweepResult

	expiredInMemory := m.expireMemory(maxAgeHours, now, logger)
	if pruned := m.pruneRetired(maxAgeHours, now); pruned > 0 {
		logger.Debug().Int("pruned", pruned).Msg("Forgot retired patterns")
	}
	if m.repo == nil {
		res.Expired = expiredInMemory
		return res, nil
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
	expired, err := m.repo.ExpireOlderThan(rctx, maxAgeHours)
	cancel()
	if err != nil {
		logging.LogRepositoryFailure(logger, "expire_older_than", "", err)
	}
	res.Expired = expired

	rctx, cancel = context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
	records, err := m.repo.GetForSweep(rctx, maxAgeHours)
	cancel()
	if err != nil {
		logging.LogRepositoryFailure(logger, "get_for_sweep", "", err)
		return res, apperrors.NewRepositoryError("get_for_sweep", "", err)
	}

	for _, rec := range records {
		price := m.sweepPrice(ctx, rec, logger)
		ev := m.engine.Evaluate(rec, price, now)
		res.Evaluated++
		if !ev.Changed {
			continue
		}

		upd := m.statusUpdate(rec.ID, rec.PatternID, ev, rec.Confidence, price, now)
		rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
		ok, err := m.repo.Update(rctx, rec.ID, upd.Update)
		cancel()
		if err != nil {
			logging.LogRepositoryFailure(logger, "update", rec.PatternID, apperrors.NewRepositoryError("update", rec.ID, err))
		} else if ok {
			res.Updated++
		}
		m.retireSwept(rec, ev, now, logger)
	}

	logger.Info().
		Int("evaluated", res.Evaluated).
		Int("updated", res.Updated).
		Int("expired", res.Expired).
		Msg("Sweep complete")
	return res, nil
}

func (m *Manager) sweepPrice(ctx context.Context, rec *models.PatternRecord, logger zerolog.Logger) float64 {
	if m.prices != nil {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
		price, ok, err := m.prices.LastPrice(rctx, rec.Symbol, rec.Timeframe)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("symbol", rec.Symbol).Msg("Price lookup failed, using last seen price")
		} else if ok {
			return price
		}
	}
	if rec.LastPrice != nil {
		return *rec.LastPrice
	}
	return 0
}

// retireSwept mirrors a swept record's terminal status into memory.
func (m *Manager) retireSwept(rec *models.PatternRecord, ev Evaluation, now time.Time, logger zerolog.Logger) {
	p := m.partition(rec.Symbol, rec.Timeframe)
	p.mu.Lock()
	c := &cycle{now: now}
	if st, ok := p.states[rec.PatternID]; ok {
		m.finish(p, st, ev.Status, ev.Reason, c, logger)
	} else if _, gone := p.retired[rec.PatternID]; !gone {
		p.retired[rec.PatternID] = retiredPattern{status: ev.Status, reason: ev.Reason, at: now}
		c.commands.add(ClearCommand(rec.PatternID))
	}
	p.mu.Unlock()

	m.publish(rec.Symbol, rec.Timeframe, c.commands.list())
}

// expireMemory expires in-memory states older than maxAgeHours.
func (m *Manager) expireMemory(maxAgeHours float64, now time.Time, logger zerolog.Logger) int {
	count := 0
	for _, key := range m.keys() {
		m.mu.Lock()
		p := m.partitions[key]
		m.mu.Unlock()

		p.mu.Lock()
		c := &cycle{now: now}
		var symbol, timeframe string
		for _, id := range p.ids() {
			st := p.states[id]
			if now.Sub(st.FirstSeen).Hours() <= maxAgeHours {
				continue
			}
			symbol, timeframe = st.Symbol, st.Timeframe
			m.finish(p, st, models.StatusExpired, ReasonExpiredByTime, c, logger)
			count++
		}
		p.mu.Unlock()

		if symbol != "" {
			m.publish(symbol, timeframe, c.commands.list())
		}
	}
	return count
}

// pruneRetired forgets patterns retired more than maxAgeHours ago.
func (m *Manager) pruneRetired(maxAgeHours float64, now time.Time) int {
	pruned := 0
	for _, key := range m.keys() {
		m.mu.Lock()
		p := m.partitions[key]
		m.mu.Unlock()

		p.mu.Lock()
		for id, gone := range p.retired {
			if now.Sub(gone.at).Hours() > maxAgeHours {
				delete(p.retired, id)
				pruned++
			}
		}
		p.mu.Unlock()
	}
	return pruned
}

// Sweeper runs Sweep on a fixed interval.
type Sweeper struct {
	manager     *Manager
	interval    time.Duration
	maxAgeHours float64
	logger      zerolog.Logger
}

// NewSweeper creates a background sweeper.
func NewSweeper(manager *Manager, interval time.Duration, maxAgeHours float64, logger zerolog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", interval)
	}
	if maxAgeHours <= 0 {
		return nil, fmt.Errorf("sweep max age must be positive, got %v", maxAgeHours)
	}
	return &Sweeper{
		manager:     manager,
		interval:    interval,
		maxAgeHours: maxAgeHours,
		logger:      logger.With().Str("component", "sweeper").Logger(),
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.manager.Sweep(ctx, s.maxAgeHours); err != nil {
		s.logger.Warn().Err(err).Msg("Sweep failed")
	}
}
