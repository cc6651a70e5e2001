package lifecycle

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/logging"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/store"
)

// Config controls the lifecycle manager.
type Config struct {
	ConfirmThreshold  float64       `mapstructure:"confirm_threshold"`
	MaxMisses         int           `mapstructure:"max_misses"`
	RepositoryTimeout time.Duration `mapstructure:"repository_timeout"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ConfirmThreshold:  70,
		MaxMisses:         2,
		RepositoryTimeout: 3 * time.Second,
	}
}

// Validate checks the manager configuration.
func (c Config) Validate() error {
	if c.ConfirmThreshold < 0 || c.ConfirmThreshold > 100 {
		return apperrors.NewValidationError("confirm_threshold", c.ConfirmThreshold, "must be in [0, 100]")
	}
	if c.MaxMisses < 1 {
		return apperrors.NewValidationError("max_misses", c.MaxMisses, "must be at least 1")
	}
	if c.RepositoryTimeout <= 0 {
		return apperrors.NewValidationError("repository_timeout", c.RepositoryTimeout, "must be positive")
	}
	return nil
}

// CommandSink receives the chart commands produced by each lifecycle call.
type CommandSink interface {
	Publish(symbol, timeframe string, commands []string)
}

// PriceSource supplies the latest price for a symbol during sweeps.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol, timeframe string) (float64, bool, error)
}

// PatternState is the in-memory lifecycle state of one tracked pattern.
type PatternState struct {
	PatternID   string                 `json:"pattern_id"`
	RecordID    string                 `json:"record_id,omitempty"`
	Symbol      string                 `json:"symbol"`
	Timeframe   string                 `json:"timeframe"`
	Type        analysis.PatternType   `json:"pattern_type"`
	Status      models.PatternStatus   `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	Confidence  float64                `json:"confidence"`
	Bias        analysis.Bias          `json:"bias"`
	Action      analysis.Action        `json:"recommended_action"`
	Support     *float64               `json:"support,omitempty"`
	Resistance  *float64               `json:"resistance,omitempty"`
	Target      *float64               `json:"target,omitempty"`
	StopLoss    *float64               `json:"stop_loss,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	FirstSeen   time.Time              `json:"first_seen"`
	LastUpdated time.Time              `json:"last_updated"`
	MissCount   int                    `json:"miss_count"`
}

func newState(symbol, timeframe string, p analysis.Pattern, now time.Time) *PatternState {
	st := &PatternState{
		PatternID: p.ID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Type:      p.Type,
		Status:    models.StatusPending,
		FirstSeen: now,
	}
	st.refresh(p, now)
	return st
}

func stateFromRecord(rec *models.PatternRecord) *PatternState {
	return &PatternState{
		PatternID:   rec.PatternID,
		RecordID:    rec.ID,
		Symbol:      rec.Symbol,
		Timeframe:   rec.Timeframe,
		Type:        analysis.PatternType(rec.PatternType),
		Status:      rec.Status,
		Reason:      rec.Reason,
		Confidence:  rec.Confidence,
		Bias:        analysis.Bias(rec.Bias),
		Support:     rec.Support,
		Resistance:  rec.Resistance,
		Target:      rec.Target,
		StopLoss:    rec.StopLoss,
		Metadata:    rec.Metadata,
		FirstSeen:   rec.CreatedAt,
		LastUpdated: rec.UpdatedAt,
	}
}

// refresh copies the latest sighting into the state and resets the miss counter.
func (s *PatternState) refresh(p analysis.Pattern, now time.Time) {
	fresh := p.Clone()
	s.Confidence = analysis.ClampConfidence(fresh.Confidence)
	s.Bias = fresh.Bias
	s.Action = fresh.Action
	s.Support = fresh.Support
	s.Resistance = fresh.Resistance
	s.Target = fresh.Target
	s.StopLoss = fresh.StopLoss
	s.Metadata = fresh.Metadata
	s.LastUpdated = now
	s.MissCount = 0
}

func (s *PatternState) clone() PatternState {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// record builds the repository view of the state.
func (s *PatternState) record(price float64) *models.PatternRecord {
	rec := &models.PatternRecord{
		ID:          s.RecordID,
		PatternID:   s.PatternID,
		Symbol:      s.Symbol,
		Timeframe:   s.Timeframe,
		PatternType: string(s.Type),
		Status:      s.Status,
		Confidence:  s.Confidence,
		Bias:        string(s.Bias),
		Support:     s.Support,
		Resistance:  s.Resistance,
		Target:      s.Target,
		StopLoss:    s.StopLoss,
		Reason:      s.Reason,
		Metadata:    s.Metadata,
		CreatedAt:   s.FirstSeen,
		UpdatedAt:   s.LastUpdated,
	}
	if validPrice(price) {
		rec.LastPrice = &price
	}
	return rec.Clone()
}

// Transition records one status change.
type Transition struct {
	PatternID string               `json:"pattern_id"`
	RecordID  string               `json:"record_id,omitempty"`
	From      models.PatternStatus `json:"from"`
	To        models.PatternStatus `json:"to"`
	Reason    string               `json:"reason"`
	At        time.Time            `json:"at"`
}

// RepositoryUpdate is a status write sent to the repository.
type RepositoryUpdate struct {
	RecordID  string              `json:"record_id"`
	PatternID string              `json:"pattern_id"`
	Update    models.RecordUpdate `json:"update"`
	Applied   bool                `json:"applied"`
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	States   []PatternState `json:"states"`
	Commands []string       `json:"chart_commands"`
}

// EvaluateResult is returned by Evaluate.
type EvaluateResult struct {
	States            []PatternState     `json:"states"`
	Commands          []string           `json:"chart_commands"`
	Transitions       []Transition       `json:"transitions"`
	RepositoryUpdates []RepositoryUpdate `json:"repository_updates"`
}

type retiredPattern struct {
	status models.PatternStatus
	reason string
	at     time.Time
}

// partition holds the states of one (symbol, timeframe). Its mutex makes each key single-writer.
type partition struct {
	mu      sync.Mutex
	states  map[string]*PatternState
	order   []string
	retired map[string]retiredPattern
}

func newPartition() *partition {
	return &partition{
		states:  make(map[string]*PatternState),
		retired: make(map[string]retiredPattern),
	}
}

func (p *partition) add(st *PatternState) {
	p.states[st.PatternID] = st
	p.order = append(p.order, st.PatternID)
}

func (p *partition) retire(st *PatternState) {
	delete(p.states, st.PatternID)
	for i, id := range p.order {
		if id == st.PatternID {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}
	p.retired[st.PatternID] = retiredPattern{status: st.Status, reason: st.Reason, at: st.LastUpdated}
}

func (p *partition) ids() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// cycle accumulates the effects of one lifecycle call.
type cycle struct {
	now         time.Time
	commands    commandList
	transitions []Transition
	finished    []*PatternState
	updates     []RepositoryUpdate
}

// lookup finds a state that is tracked or was retired during the cycle.
func (c *cycle) lookup(p *partition, patternID string) (*PatternState, bool) {
	if st, ok := p.states[patternID]; ok {
		return st, true
	}
	for _, st := range c.finished {
		if st.PatternID == patternID {
			return st, true
		}
	}
	return nil, false
}

func (c *cycle) states(p *partition) []PatternState {
	out := make([]PatternState, 0, len(p.order)+len(c.finished))
	for _, id := range p.order {
		out = append(out, p.states[id].clone())
	}
	for _, st := range c.finished {
		out = append(out, st.clone())
	}
	return out
}

// Manager owns the lifecycle state of every (symbol, timeframe). Calls for the same
// key are serialised; different keys proceed in parallel.
type Manager struct {
	cfg    Config
	engine *RuleEngine
	repo   store.PatternRepository
	sink   CommandSink
	prices PriceSource
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	partitions map[string]*partition
}

// Option configures a Manager.
type Option func(*Manager)

// WithRepository persists lifecycle state through repo.
func WithRepository(repo store.PatternRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithCommandSink publishes each call's chart commands to sink.
func WithCommandSink(sink CommandSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithPriceSource supplies live prices to sweeps.
func WithPriceSource(prices PriceSource) Option {
	return func(m *Manager) { m.prices = prices }
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lifecycle manager. A nil engine uses the default rules.
func NewManager(cfg Config, engine *RuleEngine, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		engine = NewRuleEngine(nil)
	}
	m := &Manager{
		cfg:        cfg,
		engine:     engine,
		logger:     zerolog.Nop(),
		now:        time.Now,
		partitions: make(map[string]*partition),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.WithOperation(m.logger, "lifecycle")
	return m, nil
}

func partitionKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

func (m *Manager) partition(symbol, timeframe string) *partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partitionKey(symbol, timeframe)
	p, ok := m.partitions[key]
	if !ok {
		p = newPartition()
		m.partitions[key] = p
	}
	return p
}

// States returns a snapshot of the active states for a key.
func (m *Manager) States(symbol, timeframe string) []PatternState {
	p := m.partition(symbol, timeframe)
	p.mu.Lock()
	defer p.mu.Unlock()
	return (&cycle{}).states(p)
}

// Update applies a fresh detection result to the in-memory state without consulting
// price rules or the repository.
func (m *Manager) Update(symbol, timeframe string, fresh []analysis.Pattern) UpdateResult {
	p := m.partition(symbol, timeframe)
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := logging.WithTimeframe(m.logger, symbol, timeframe)
	c := &cycle{now: m.now()}
	m.observe(p, symbol, timeframe, fresh, c, logger)

	res := UpdateResult{States: c.states(p), Commands: c.commands.list()}
	m.publish(symbol, timeframe, res.Commands)
	return res
}

// Evaluate applies a fresh detection result, runs the rules at price, creates
// repository records for new patterns and persists every transition. Repository
// failures are logged and never undo in-memory transitions.
func (m *Manager) Evaluate(ctx context.Context, symbol, timeframe string, price float64, fresh []analysis.Pattern) EvaluateResult {
	p := m.partition(symbol, timeframe)
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := logging.WithTimeframe(m.logger, symbol, timeframe)
	c := &cycle{now: m.now()}

	persisted := m.loadActive(ctx, symbol, timeframe, logger)
	byPatternID := make(map[string]*models.PatternRecord, len(persisted))
	for _, rec := range persisted {
		if _, dup := byPatternID[rec.PatternID]; !dup {
			byPatternID[rec.PatternID] = rec
		}
	}

	// Resume persisted patterns that are sighted again, then adopt record IDs.
	for _, pat := range fresh {
		rec, ok := byPatternID[pat.ID]
		if !ok {
			continue
		}
		if _, tracked := p.states[pat.ID]; tracked {
			continue
		}
		if _, gone := p.retired[pat.ID]; gone {
			continue
		}
		p.add(stateFromRecord(rec))
	}
	for _, id := range p.order {
		st := p.states[id]
		if st.RecordID == "" {
			if rec, ok := byPatternID[id]; ok {
				st.RecordID = rec.ID
			}
		}
	}

	m.observe(p, symbol, timeframe, fresh, c, logger)
	m.createRecords(ctx, p, price, logger)

	for _, id := range p.ids() {
		st := p.states[id]
		ev := m.engine.Evaluate(st.record(price), price, c.now)
		if ev.Changed {
			m.finish(p, st, ev.Status, ev.Reason, c, logger)
			c.updates = append(c.updates, m.statusUpdate(st.RecordID, st.PatternID, ev, st.Confidence, price, c.now))
		}
	}

	// Records the repository still holds active but memory does not track.
	for _, rec := range persisted {
		if _, tracked := p.states[rec.PatternID]; tracked || hasUpdate(c.updates, rec.ID) {
			continue
		}
		if gone, ok := p.retired[rec.PatternID]; ok {
			status, reason := gone.status, gone.reason
			c.updates = append(c.updates, RepositoryUpdate{
				RecordID:  rec.ID,
				PatternID: rec.PatternID,
				Update:    models.RecordUpdate{Status: &status, Reason: &reason, UpdatedAt: c.now},
			})
			continue
		}
		ev := m.engine.Evaluate(rec, price, c.now)
		if !ev.Changed {
			continue
		}
		st := stateFromRecord(rec)
		m.transition(st, ev.Status, ev.Reason, c, logger)
		c.commands.add(ClearCommand(st.PatternID))
		p.retired[st.PatternID] = retiredPattern{status: st.Status, reason: st.Reason, at: c.now}
		c.finished = append(c.finished, st)
		c.updates = append(c.updates, m.statusUpdate(rec.ID, rec.PatternID, ev, rec.Confidence, price, c.now))
	}

	// Transitions from observe carry no rule evaluation; persist them as plain status writes.
	for _, t := range c.transitions {
		if t.RecordID == "" || hasUpdate(c.updates, t.RecordID) {
			continue
		}
		to, reason := t.To, t.Reason
		upd := models.RecordUpdate{Status: &to, Reason: &reason, UpdatedAt: c.now}
		if st, ok := c.lookup(p, t.PatternID); ok {
			confidence := st.Confidence
			upd.Confidence = &confidence
		}
		if validPrice(price) {
			upd.LastPrice = &price
		}
		c.updates = append(c.updates, RepositoryUpdate{RecordID: t.RecordID, PatternID: t.PatternID, Update: upd})
	}

	// Re-sightings that moved the confidence without a transition.
	for _, id := range p.order {
		st := p.states[id]
		rec, ok := byPatternID[id]
		if !ok || st.RecordID == "" || st.Confidence == rec.Confidence || hasUpdate(c.updates, st.RecordID) {
			continue
		}
		confidence := st.Confidence
		upd := models.RecordUpdate{Confidence: &confidence, UpdatedAt: c.now}
		if validPrice(price) {
			upd.LastPrice = &price
		}
		c.updates = append(c.updates, RepositoryUpdate{RecordID: st.RecordID, PatternID: id, Update: upd})
	}
	m.flush(ctx, c, logger)

	res := EvaluateResult{
		States:            c.states(p),
		Commands:          c.commands.list(),
		Transitions:       c.transitions,
		RepositoryUpdates: c.updates,
	}
	if res.Transitions == nil {
		res.Transitions = []Transition{}
	}
	if res.RepositoryUpdates == nil {
		res.RepositoryUpdates = []RepositoryUpdate{}
	}
	m.publish(symbol, timeframe, res.Commands)
	return res
}

// observe applies sightings, promotions and misses.
func (m *Manager) observe(p *partition, symbol, timeframe string, fresh []analysis.Pattern, c *cycle, logger zerolog.Logger) {
	seen := make(map[string]bool, len(fresh))
	for _, pat := range fresh {
		if pat.ID == "" || seen[pat.ID] {
			continue
		}
		seen[pat.ID] = true
		if _, gone := p.retired[pat.ID]; gone {
			continue
		}

		st, ok := p.states[pat.ID]
		if !ok {
			st = newState(symbol, timeframe, pat, c.now)
			p.add(st)
			c.commands.add(AnnotateCommand(st.PatternID, st.Status, displayName(st.Type)))
		} else {
			st.refresh(pat, c.now)
		}
		m.promote(p, st, c, logger)
	}

	for _, id := range p.ids() {
		if seen[id] {
			continue
		}
		st := p.states[id]
		st.MissCount++
		if st.MissCount >= m.cfg.MaxMisses {
			m.finish(p, st, models.StatusInvalidated, ReasonMissed, c, logger)
		}
	}
}

// promote advances a state by at most one step based on confidence and the recommended action.
// Types without a lifecycle rule stay pending.
func (m *Manager) promote(p *partition, st *PatternState, c *cycle, logger zerolog.Logger) {
	switch {
	case st.Status == models.StatusPending && !m.engine.Covers(st.Type):
		st.Reason = ReasonNoRule
	case st.Status == models.StatusPending && (st.Confidence >= m.cfg.ConfirmThreshold || st.Action.ImpliesEntry()):
		m.transition(st, models.StatusConfirmed, ReasonConfirmed, c, logger)
		c.commands.add(AnnotateCommand(st.PatternID, st.Status, ""))
		c.commands.add(drawCommands(st)...)
	case st.Status == models.StatusConfirmed && st.Action.ImpliesProfitTaking():
		m.finish(p, st, models.StatusCompleted, ReasonProfitTaking, c, logger)
	}
}

// finish moves a state to a terminal status, clears its drawings and retires it.
func (m *Manager) finish(p *partition, st *PatternState, status models.PatternStatus, reason string, c *cycle, logger zerolog.Logger) {
	m.transition(st, status, reason, c, logger)
	c.commands.add(ClearCommand(st.PatternID))
	p.retire(st)
	c.finished = append(c.finished, st)
}

func (m *Manager) transition(st *PatternState, to models.PatternStatus, reason string, c *cycle, logger zerolog.Logger) {
	from := st.Status
	st.Status = to
	st.Reason = reason
	st.LastUpdated = c.now
	c.transitions = append(c.transitions, Transition{
		PatternID: st.PatternID,
		RecordID:  st.RecordID,
		From:      from,
		To:        to,
		Reason:    reason,
		At:        c.now,
	})
	logging.LogTransition(logger, st.PatternID, string(from), string(to), reason)
}

func (m *Manager) statusUpdate(recordID, patternID string, ev Evaluation, confidence, price float64, now time.Time) RepositoryUpdate {
	status, reason := ev.Status, ev.Reason
	upd := models.RecordUpdate{
		Status:     &status,
		Reason:     &reason,
		Confidence: &confidence,
		Metadata:  map[string]interface{}{"decayed_confidence": ev.DecayedConfidence, "age_hours": ev.AgeHours},
		UpdatedAt: now,
	}
	if validPrice(price) {
		upd.LastPrice = &price
	}
	return RepositoryUpdate{RecordID: recordID, PatternID: patternID, Update: upd}
}

func (m *Manager) loadActive(ctx context.Context, symbol, timeframe string, logger zerolog.Logger) []*models.PatternRecord {
	if m.repo == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
	defer cancel()
	recs, err := m.repo.GetActive(rctx, symbol, timeframe)
	if err != nil {
		logging.LogRepositoryFailure(logger, "get_active", "", apperrors.NewRepositoryError("get_active", "", err))
		return nil
	}
	return recs
}

func (m *Manager) createRecords(ctx context.Context, p *partition, price float64, logger zerolog.Logger) {
	if m.repo == nil {
		return
	}
	for _, id := range p.order {
		st := p.states[id]
		if st.RecordID != "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
		recordID, err := m.repo.Create(rctx, st.record(price))
		cancel()
		if err != nil {
			logging.LogRepositoryFailure(logger, "create", st.PatternID, apperrors.NewRepositoryError("create", st.PatternID, err))
			continue
		}
		st.RecordID = recordID
	}
}

func (m *Manager) flush(ctx context.Context, c *cycle, logger zerolog.Logger) {
	if m.repo == nil {
		return
	}
	for i := range c.updates {
		u := &c.updates[i]
		if u.RecordID == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, m.cfg.RepositoryTimeout)
		ok, err := m.repo.Update(rctx, u.RecordID, u.Update)
		cancel()
		if err != nil {
			logging.LogRepositoryFailure(logger, "update", u.PatternID, apperrors.NewRepositoryError("update", u.RecordID, err))
			continue
		}
		u.Applied = ok
	}
}

func (m *Manager) publish(symbol, timeframe string, commands []string) {
	if m.sink == nil || len(commands) == 0 {
		return
	}
	m.sink.Publish(symbol, timeframe, commands)
}

// drawCommands renders the levels and target of a confirmed pattern.
func drawCommands(st *PatternState) []string {
	var out []string
	if st.Support != nil {
		out = append(out, LevelCommand(st.PatternID, string(analysis.LevelSupport), *st.Support))
	}
	if st.Resistance != nil {
		out = append(out, LevelCommand(st.PatternID, string(analysis.LevelResistance), *st.Resistance))
	}
	if st.StopLoss != nil {
		out = append(out, LevelCommand(st.PatternID, "stop", *st.StopLoss))
	}
	if st.Target != nil {
		out = append(out, TargetCommand(st.PatternID, *st.Target))
	}
	return out
}

func hasUpdate(updates []RepositoryUpdate, recordID string) bool {
	for _, u := range updates {
		if u.RecordID == recordID {
			return true
		}
	}
	return false
}

func displayName(t analysis.PatternType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func validPrice(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// keys returns the partition keys in sorted order.
func (m *Manager) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.partitions))
	for k := range m.partitions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
