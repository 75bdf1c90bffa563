// Package scheduler decides when each configured source is ingested. Every
// source has an explicit SourceState owned by the Scheduler; cycles run
// under a global concurrency cap, wait on the source's rate limiter, and
// retry SourceUnavailable failures with capped exponential backoff.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vendorgrid/internal/ingestion/metrics"
	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/ratelimit"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/sources"
	dErrors "vendorgrid/pkg/domain-errors"
	"vendorgrid/pkg/platform/circuit"
	"vendorgrid/pkg/requestcontext"
)

const (
	DefaultMaxConcurrent    = 4
	DefaultTick             = time.Second
	DefaultFailureThreshold = 3
)

var ErrInvalidTransition = errors.New("invalid source state transition")

// Runner runs one attempt of one cycle. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, c pipeline.Cycle) error
}

// RunStore persists run bookkeeping.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.IngestionJobRun) error
}

type entry struct {
	cfg     *models.SourceConfig
	state   SourceState
	breaker *circuit.Breaker
	running bool
}

type Scheduler struct {
	runner  Runner
	runs    RunStore
	limiter ratelimit.Limiter
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxConcurrent    int64
	tick             time.Duration
	failureThreshold int
	sem              *semaphore.Weighted

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	inflight sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLimiter replaces the default in-memory limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = int64(n)
		}
	}
}

// WithTick sets how often Start looks for due sources.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithFailureThreshold sets how many consecutive failed cycles open a
// source's circuit.
func WithFailureThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

func New(runner Runner, runs RunStore, cfgs []*models.SourceConfig, opts ...Option) (*Scheduler, error) {
	if runner == nil || runs == nil {
		return nil, errors.New("runner and run store are required")
	}
	s := &Scheduler{
		runner:           runner,
		runs:             runs,
		clock:            realClock{},
		logger:           slog.Default(),
		maxConcurrent:    DefaultMaxConcurrent,
		tick:             DefaultTick,
		failureThreshold: DefaultFailureThreshold,
		entries:          make(map[string]*entry, len(cfgs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemory(ratelimit.WithClock(s.clock.Now))
	}
	s.sem = semaphore.NewWeighted(s.maxConcurrent)

	for _, cfg := range cfgs {
		if cfg == nil || cfg.ID == "" {
			return nil, errors.New("source id is required")
		}
		if _, dup := s.entries[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate source %q", cfg.ID)
		}
		c := *cfg
		s.limiter.Configure(c.ID, c.RateLimit)
		s.entries[c.ID] = &entry{
			cfg:   &c,
			state: SourceState{Phase: PhaseIdle},
			breaker: circuit.New(c.ID,
				circuit.WithFailureThreshold(s.failureThreshold),
				circuit.WithSuccessThreshold(1),
			),
		}
		s.order = append(s.order, c.ID)
	}
	return s, nil
}

// Start polls for due sources every tick until ctx is cancelled, then waits
// for in-flight cycles to observe the cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		"sources", len(s.order),
		"max_concurrent", s.maxConcurrent,
	)
	for {
		s.dispatch(ctx)
		if err := sleep(ctx, s.clock, s.tick); err != nil {
			s.inflight.Wait()
			s.logger.InfoContext(context.WithoutCancel(ctx), "scheduler stopped")
			return err
		}
	}
}

// RunDue starts every due source as one round and waits for the round.
func (s *Scheduler) RunDue(ctx context.Context) {
	s.dispatch(ctx).Wait()
}

// dispatch starts a cycle for every due, idle source. Cycles started
// together share one Ledger.
func (s *Scheduler) dispatch(ctx context.Context) *sync.WaitGroup {
	now := s.clock.Now()
	ledger := resolve.NewLedger()
	round := &sync.WaitGroup{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		e := s.entries[id]
		if e.running || now.Before(e.state.NextRunAt) {
			continue
		}
		e.running = true
		round.Add(1)
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer round.Done()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.release(e)
				return
			}
			defer s.sem.Release(1)
			s.cycle(ctx, e, ledger, requestcontext.SystemActor, models.TriggerScheduled)
		}()
	}
	return round
}

// TriggerCycle runs one cycle of sourceID now and returns its run. The
// cycle's own failure is reported on the run, not as an error.
func (s *Scheduler) TriggerCycle(ctx context.Context, sourceID, actor string) (*models.IngestionJobRun, error) {
	s.mu.Lock()
	e, ok := s.entries[sourceID]
	if !ok {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("source %q not found", sourceID))
	}
	if e.running {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("source %q is already running", sourceID))
	}
	e.running = true
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.release(e)
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "waiting for a free ingestion slot")
	}
	defer s.sem.Release(1)

	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	return s.cycle(ctx, e, resolve.NewLedger(), actor, models.TriggerManual).Clone(), nil
}

func (s *Scheduler) cycle(ctx context.Context, e *entry, ledger *resolve.Ledger, actor string, trigger models.Trigger) *models.IngestionJobRun {
	cfg := e.cfg
	began := time.Now()
	run := models.NewRun(cfg.ID, actor, trigger, s.clock.Now())
	ctx = requestcontext.WithActor(ctx, actor)
	logger := s.logger.With("source_id", cfg.ID, "run_id", run.ID)
	s.saveRun(ctx, run)

	logger.InfoContext(ctx, "ingestion cycle started", "trigger", trigger, "actor", actor)

	maxAttempts := max(cfg.Retry.MaxAttempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		run.Attempts = attempt
		if err = s.acquireToken(ctx, cfg.ID); err != nil {
			break
		}
		s.mu.Lock()
		e.state.Attempt = attempt
		s.enterLocked(ctx, e, PhaseFetching)
		s.mu.Unlock()

		err = s.runner.Run(ctx, pipeline.Cycle{
			Source: cfg,
			Run:    run,
			Ledger: ledger,
			Actor:  actor,
			OnStage: func(st pipeline.Stage) {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.enterLocked(ctx, e, phaseOf(st))
			},
		})
		if err == nil || ctx.Err() != nil || !sources.IsRetryable(err) || attempt >= maxAttempts {
			break
		}

		delay := cfg.Retry.Delay(attempt)
		s.mu.Lock()
		s.enterLocked(ctx, e, PhaseRetryWait)
		e.state.NextRunAt = s.clock.Now().Add(delay)
		s.mu.Unlock()
		s.metrics.IncrementCycleRetry(cfg.ID)
		logger.WarnContext(ctx, "source unavailable, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		if err = sleep(ctx, s.clock, delay); err != nil {
			break
		}
	}

	status := models.RunSucceeded
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = models.RunCancelled
	default:
		status = models.RunFailed
		run.AddError(err.Error())
	}
	run.Finish(status, s.clock.Now())
	s.saveRun(context.WithoutCancel(ctx), run)
	s.settle(ctx, e, run, err)
	s.metrics.ObserveCycle(cfg.ID, string(status), began)

	attrs := []any{
		"status", status,
		"attempts", run.Attempts,
		"seen", run.Seen,
		"created", run.Created,
		"updated", run.Updated,
		"unchanged", run.Unchanged,
		"rejected", run.Rejected,
		"malformed", run.Malformed,
		"conflicts", run.Conflicts,
	}
	if status == models.RunFailed {
		logger.ErrorContext(ctx, "ingestion cycle failed", append(attrs, "error", err)...)
	} else {
		logger.InfoContext(ctx, "ingestion cycle finished", attrs...)
	}
	return run
}

// settle moves the source to its resting phase and updates health.
func (s *Scheduler) settle(ctx context.Context, e *entry, run *models.IngestionJobRun, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := PhaseIdle
	if run.Status == models.RunFailed {
		target = PhaseFailed
	}
	if e.state.Active() {
		s.enterLocked(ctx, e, target)
	} else {
		// The cycle never got past the rate limiter.
		e.state.Phase = target
	}
	e.state.Attempt = 0
	e.state.NextRunAt = run.FinishedAt.Add(e.cfg.PollInterval)
	e.state.LastRun = run.Clone()

	h := &e.cfg.Health
	h.LastRunAt = run.FinishedAt
	h.LastStatus = run.Status
	h.LastError = ""
	var change circuit.StateChange
	switch run.Status {
	case models.RunFailed:
		h.LastError = cause.Error()
		h.ConsecutiveFailures++
		_, change = e.breaker.RecordFailure()
	case models.RunSucceeded:
		h.ConsecutiveFailures = 0
		_, change = e.breaker.RecordSuccess()
	}
	h.CircuitOpen = e.breaker.IsOpen()
	s.metrics.SetCircuitOpen(e.cfg.ID, h.CircuitOpen)
	if change.Opened {
		s.logger.WarnContext(ctx, "source circuit opened",
			"source_id", e.cfg.ID,
			"consecutive_failures", h.ConsecutiveFailures,
		)
	}
	if change.Closed {
		s.logger.InfoContext(ctx, "source circuit closed", "source_id", e.cfg.ID)
	}
	e.running = false
}

// enterLocked applies a phase change; s.mu must be held. An illegal change
// is logged and leaves the state untouched.
func (s *Scheduler) enterLocked(ctx context.Context, e *entry, to Phase) {
	if e.state.Phase == to {
		return
	}
	if err := e.state.transition(to); err != nil {
		s.logger.ErrorContext(ctx, "rejected source state change",
			"source_id", e.cfg.ID,
			"error", err,
		)
	}
}

func (s *Scheduler) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.running = false
}

// acquireToken defers until the source's limiter grants a fetch.
func (s *Scheduler) acquireToken(ctx context.Context, sourceID string) error {
	for {
		res, err := s.limiter.TryAcquire(ctx, sourceID)
		if err != nil {
			return err
		}
		if res.Granted {
			return nil
		}
		s.metrics.IncrementRateLimited(sourceID)
		wait := max(res.Wait, time.Millisecond)
		s.logger.DebugContext(ctx, "rate limited, deferring fetch",
			"source_id", sourceID,
			"wait", wait,
		)
		if err := sleep(ctx, s.clock, wait); err != nil {
			return err
		}
	}
}

func (s *Scheduler) saveRun(ctx context.Context, run *models.IngestionJobRun) {
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to save ingestion run",
			"source_id", run.SourceID,
			"run_id", run.ID,
			"error", err,
		)
	}
}

// Sources returns the status of every source in configuration order.
func (s *Scheduler) Sources() []SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.statusLocked(s.entries[id]))
	}
	return out
}

func (s *Scheduler) Source(sourceID string) (SourceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sourceID]
	if !ok {
		return SourceStatus{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("source %q not found", sourceID))
	}
	return s.statusLocked(e), nil
}

func (s *Scheduler) statusLocked(e *entry) SourceStatus {
	st := e.state
	st.LastRun = st.LastRun.Clone()
	return SourceStatus{
		ID:       e.cfg.ID,
		Name:     e.cfg.Name,
		Priority: e.cfg.Priority,
		State:    st,
		Health:   e.cfg.Health,
	}
}
