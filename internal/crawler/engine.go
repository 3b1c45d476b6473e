package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
)

// Engine runs the round-based crawl loop: drain a batch from the frontier,
// fetch it concurrently, merge outcomes, checkpoint, repeat.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	store     StateStore
	logger    *zap.Logger
	clock     Clock
	ids       IDGenerator
	observers []Observer

	// mu guards state and session against the read accessors, which may be
	// called from other goroutines while Run is in progress.
	mu      sync.RWMutex
	state   State
	session *Session
	rounds  int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator overrides how run IDs are produced.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithObserver registers an observer for per-round progress.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// NewEngine validates cfg and wires the engine. A nil store disables
// checkpointing.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	store StateStore,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, invalidInput("fetcher is required")
	}
	if extractor == nil {
		return nil, invalidInput("extractor is required")
	}
	if cfg.CheckpointMode == "" {
		cfg.CheckpointMode = CheckpointPerRound
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		logger:    logger,
		clock:     system.New(),
		ids:       uuid.NewUUIDGenerator(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Results returns a copy of the accumulated page results.
func (e *Engine) Results() []PageResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil
	}
	out := make([]PageResult, len(e.session.Results))
	copy(out, e.session.Results)
	return out
}

// Snapshot returns a copy of the current session, or false before Run.
func (e *Engine) Snapshot() (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return Snapshot{}, false
	}
	return e.session.Snapshot(e.clock.Now()), true
}

// Run restores or creates the session and crawls until the frontier is
// empty or the budget is spent. Per-page failures never surface here; only
// persistence failures and context cancellation abort the run.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if state := e.State(); state != StateIdle {
		return Summary{}, fmt.Errorf("engine already started (state %s)", state)
	}
	start := e.clock.Now()

	session, err := e.openSession(ctx)
	if err != nil {
		e.setState(StateAborted)
		return Summary{State: StateAborted}, err
	}
	e.mu.Lock()
	e.session = session
	e.state = StateRunning
	e.mu.Unlock()
	fetchedAtStart := session.PagesFetched

	e.logger.Info("Crawl started",
		zap.String("run_id", session.RunID),
		zap.String("domain_root", e.cfg.DomainRoot),
		zap.Int("budget", session.Budget),
		zap.Int("pending", session.Frontier.PendingLen()),
		zap.Int("visited", session.Frontier.VisitedLen()),
	)

	for {
		if err := ctx.Err(); err != nil {
			return e.abort(start, fetchedAtStart, err)
		}
		remaining := session.Remaining()
		if remaining <= 0 || session.Frontier.IsEmpty() {
			break
		}

		roundStart := time.Now()
		e.mu.Lock()
		batch := session.Frontier.DrainBatch(e.batchLimit(remaining))
		e.mu.Unlock()
		outcomes := e.fetchBatch(ctx, batch)
		if err := ctx.Err(); err != nil {
			// Outcomes of a canceled round are unreliable; leave the batch
			// unresolved so the last checkpoint keeps it pending.
			return e.abort(start, fetchedAtStart, err)
		}
		if err := e.mergeRound(ctx, batch, outcomes); err != nil {
			return e.abort(start, fetchedAtStart, err)
		}
		if e.cfg.CheckpointMode == CheckpointPerRound {
			if err := e.checkpoint(ctx); err != nil {
				return e.abort(start, fetchedAtStart, err)
			}
		}

		e.rounds++
		RoundsCompleted.Inc()
		RoundDuration.Observe(time.Since(roundStart).Seconds())
		FrontierPending.Set(float64(session.Frontier.PendingLen()))
		e.notify()
	}

	e.setState(StateCompleted)
	e.notify()
	summary := e.summarize(start, fetchedAtStart)
	e.logger.Info("Crawl completed",
		zap.String("run_id", summary.RunID),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_succeeded", summary.PagesSucceeded),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("pages_per_second", summary.PagesPerSecond),
	)
	return summary, nil
}

func (e *Engine) openSession(ctx context.Context) (*Session, error) {
	var session *Session
	snap, err := e.loadCheckpoint(ctx)
	switch {
	case err == nil:
		session = RestoreSession(snap, e.cfg.MaxPages)
		e.logger.Info("Resuming from checkpoint",
			zap.String("run_id", snap.RunID),
			zap.Int("results", len(snap.Results)),
		)
	case errors.Is(err, ErrNoCheckpoint):
		session = NewSession("", e.cfg.MaxPages)
	default:
		return nil, &PersistenceError{Op: "load checkpoint", Err: err}
	}
	if session.RunID == "" {
		id, err := e.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		session.RunID = id
	}
	// Seeds are idempotent: already visited or pending seeds are skipped.
	for _, seed := range e.cfg.Seeds {
		session.Frontier.Enqueue(Normalize(seed))
	}
	return session, nil
}

func (e *Engine) loadCheckpoint(ctx context.Context) (Snapshot, error) {
	if e.store == nil {
		return Snapshot{}, ErrNoCheckpoint
	}
	return e.store.Load(ctx)
}

func (e *Engine) batchLimit(remaining int) int {
	if e.cfg.BatchSize > 0 && e.cfg.BatchSize < remaining {
		return e.cfg.BatchSize
	}
	return remaining
}

// fetchBatch fans out one fetch per target and joins. Each task writes only
// its own slot; no task touches the session.
func (e *Engine) fetchBatch(ctx context.Context, batch []CrawlTarget) []FetchOutcome {
	outcomes := make([]FetchOutcome, len(batch))
	var g errgroup.Group
	for i, target := range batch {
		g.Go(func() error {
			outcomes[i] = e.fetchOne(ctx, target)
			return nil
		})
	}
	// Fetch tasks report failure through their outcome, never through the group.
	_ = g.Wait()
	return outcomes
}

func (e *Engine) fetchOne(ctx context.Context, target CrawlTarget) FetchOutcome {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()
	outcome := e.fetcher.Fetch(fetchCtx, target.String())
	if outcome.Kind == OutcomeTransportFailure && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		outcome = Timeout()
	}
	if outcome.Duration == 0 {
		outcome.Duration = time.Since(start)
	}
	return outcome
}

func (e *Engine) mergeRound(ctx context.Context, batch []CrawlTarget, outcomes []FetchOutcome) error {
	session := e.session
	for i, target := range batch {
		outcome := outcomes[i]
		PagesFetched.WithLabelValues(outcomeLabel(outcome)).Inc()

		var extraction Extraction
		if outcome.Retrievable() {
			extraction = e.extractor.Extract(outcome.Body, target.String())
		}

		e.mu.Lock()
		added := 0
		if outcome.Retrievable() {
			session.Results = append(session.Results, PageResult{
				URL:   target,
				Title: extraction.Title,
				Text:  extraction.Text,
			})
			added = e.enqueueLinks(extraction.Links)
		}
		session.Frontier.MarkVisited(target)
		session.PagesFetched++
		e.mu.Unlock()

		if outcome.Retrievable() {
			e.logger.Info("Fetched page",
				zap.String("url", target.String()),
				zap.Int("status_code", outcome.StatusCode),
				zap.Duration("duration", outcome.Duration),
				zap.Int("links_enqueued", added),
			)
		} else {
			e.logger.Warn("Fetch failed",
				zap.String("url", target.String()),
				zap.String("outcome", outcomeLabel(outcome)),
				zap.Int("status_code", outcome.StatusCode),
				zap.String("reason", outcome.Reason),
			)
		}

		if e.cfg.CheckpointMode == CheckpointPerPage {
			if err := e.checkpoint(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) enqueueLinks(links []CrawlTarget) int {
	added := 0
	for _, link := range links {
		link = Normalize(link.String())
		if !IsInScope(link.String(), e.cfg.DomainRoot) {
			continue
		}
		if e.session.Frontier.Enqueue(link) {
			added++
		}
	}
	LinksEnqueued.Add(float64(added))
	return added
}

func (e *Engine) checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, _ := e.Snapshot()
	// A canceled run still gets its last snapshot written.
	saveCtx := context.WithoutCancel(ctx)
	if err := e.store.Save(saveCtx, snap); err != nil {
		CheckpointFailures.Inc()
		return &PersistenceError{Op: "save checkpoint", Err: err}
	}
	return nil
}

func (e *Engine) abort(start time.Time, fetchedAtStart int, cause error) (Summary, error) {
	e.setState(StateAborted)
	e.notify()
	summary := e.summarize(start, fetchedAtStart)
	e.logger.Error("Crawl aborted",
		zap.String("run_id", summary.RunID),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Error(cause),
	)
	return summary, cause
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

func (e *Engine) summarize(start time.Time, fetchedAtStart int) Summary {
	elapsed := e.clock.Now().Sub(start)
	s := e.session
	summary := Summary{
		RunID:          s.RunID,
		State:          e.state,
		Rounds:         e.rounds,
		PagesFetched:   s.PagesFetched,
		PagesSucceeded: s.PagesSucceeded(),
		PagesFailed:    s.PagesFailed(),
		Elapsed:        elapsed,
	}
	if elapsed > 0 {
		summary.PagesPerSecond = float64(s.PagesFetched-fetchedAtStart) / elapsed.Seconds()
	}
	return summary
}

func (e *Engine) notify() {
	if len(e.observers) == 0 || e.session == nil {
		return
	}
	s := e.session
	p := Progress{
		RunID:          s.RunID,
		State:          e.state,
		Round:          e.rounds,
		PagesFetched:   s.PagesFetched,
		PagesSucceeded: s.PagesSucceeded(),
		PagesFailed:    s.PagesFailed(),
		Pending:        s.Frontier.PendingLen(),
		Visited:        s.Frontier.VisitedLen(),
		Budget:         s.Budget,
		UpdatedAt:      e.clock.Now(),
	}
	for _, o := range e.observers {
		o.Observe(p)
	}
}
