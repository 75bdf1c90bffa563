package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/ratelimit"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/sources"
	"vendorgrid/internal/ingestion/store"
	dErrors "vendorgrid/pkg/domain-errors"
)

// fakeClock fires every After immediately and advances its own time by the
// requested duration, recording each wait.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// scriptedRunner returns the scripted errors in order, then nil.
type scriptedRunner struct {
	mu      sync.Mutex
	errs    map[string][]error
	calls   map[string]int
	ledgers map[string]*resolve.Ledger
	hook    func(c pipeline.Cycle)
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
		ledgers: make(map[string]*resolve.Ledger),
	}
}

func (r *scriptedRunner) script(sourceID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[sourceID] = errs
}

func (r *scriptedRunner) Run(_ context.Context, c pipeline.Cycle) error {
	if r.hook != nil {
		r.hook(c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.Source.ID]++
	r.ledgers[c.Source.ID] = c.Ledger
	stage(c, pipeline.StageParsing)
	c.Run.Seen++
	if q := r.errs[c.Source.ID]; len(q) > 0 {
		r.errs[c.Source.ID] = q[1:]
		return q[0]
	}
	stage(c, pipeline.StageProcessing)
	c.Run.Created++
	return nil
}

func stage(c pipeline.Cycle, st pipeline.Stage) {
	if c.OnStage != nil {
		c.OnStage(st)
	}
}

func (r *scriptedRunner) Calls(sourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[sourceID]
}

func sourceCfg(id string) *models.SourceConfig {
	return &models.SourceConfig{
		ID:           id,
		Format:       models.FormatDelimitedText,
		PollInterval: time.Hour,
		Retry:        models.RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 3},
	}
}

type SchedulerSuite struct {
	suite.Suite
	clock  *fakeClock
	runner *scriptedRunner
	store  *store.InMemoryStore
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.clock = newFakeClock()
	s.runner = newScriptedRunner()
	s.store = store.NewInMemoryStore()
}

func (s *SchedulerSuite) newScheduler(cfgs []*models.SourceConfig, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(s.clock)}, opts...)
	sch, err := New(s.runner, s.store, cfgs, opts...)
	s.Require().NoError(err)
	return sch
}

// =============================================================================
// Scheduled rounds
// =============================================================================

func (s *SchedulerSuite) TestRoundRunsDueSourcesOnce() {
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal"), sourceCfg("municipal")})

	sch.RunDue(context.Background())
	s.Equal(1, s.runner.Calls("federal"))
	s.Equal(1, s.runner.Calls("municipal"))

	sch.RunDue(context.Background())
	s.Equal(1, s.runner.Calls("federal"), "not due until the poll interval passes")

	s.clock.Advance(time.Hour)
	sch.RunDue(context.Background())
	s.Equal(2, s.runner.Calls("federal"))

	runs, err := s.store.ListRuns(context.Background(), "federal", 10)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal(models.RunSucceeded, runs[0].Status)
	s.Equal(models.TriggerScheduled, runs[0].Trigger)

	st, err := sch.Source("federal")
	s.Require().NoError(err)
	s.Equal(PhaseIdle, st.State.Phase)
	s.Equal(models.RunSucceeded, st.Health.LastStatus)
	s.Equal(s.clock.Now().Add(time.Hour), st.State.NextRunAt)
}

func (s *SchedulerSuite) TestRoundSharesOneLedger() {
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal"), sourceCfg("municipal")})
	sch.RunDue(context.Background())

	s.runner.mu.Lock()
	first := s.runner.ledgers["federal"]
	s.Same(first, s.runner.ledgers["municipal"])
	s.runner.mu.Unlock()

	s.clock.Advance(time.Hour)
	sch.RunDue(context.Background())
	s.runner.mu.Lock()
	defer s.runner.mu.Unlock()
	s.NotSame(first, s.runner.ledgers["federal"])
}

// =============================================================================
// Retry and failure
// =============================================================================

func (s *SchedulerSuite) TestUnavailableIsRetriedWithBackoff() {
	unavailable := sources.Unavailable("federal", "HTTP 503", nil)
	s.runner.script("federal", unavailable, unavailable)
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	sch.RunDue(context.Background())

	s.Equal(3, s.runner.Calls("federal"))
	s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.clock.Waits())
	st, _ := sch.Source("federal")
	s.Require().NotNil(st.State.LastRun)
	s.Equal(models.RunSucceeded, st.State.LastRun.Status)
	s.Equal(3, st.State.LastRun.Attempts)
	s.Equal(3, st.State.LastRun.Seen, "counts accumulate across attempts")
}

func (s *SchedulerSuite) TestRetryExhaustionFailsRunButNextCycleProceeds() {
	unavailable := sources.Unavailable("federal", "HTTP 503", nil)
	s.runner.script("federal", unavailable, unavailable, unavailable)
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	sch.RunDue(context.Background())
	st, _ := sch.Source("federal")
	s.Equal(PhaseFailed, st.State.Phase)
	s.Equal(models.RunFailed, st.State.LastRun.Status)
	s.Equal(1, st.Health.ConsecutiveFailures)
	s.Contains(st.Health.LastError, "HTTP 503")
	s.Len(st.State.LastRun.ErrorSamples, 1)

	s.clock.Advance(time.Hour)
	sch.RunDue(context.Background())
	st, _ = sch.Source("federal")
	s.Equal(PhaseIdle, st.State.Phase)
	s.Equal(models.RunSucceeded, st.State.LastRun.Status)
	s.Zero(st.Health.ConsecutiveFailures)
}

func (s *SchedulerSuite) TestFatalErrorIsNotRetried() {
	s.runner.script("federal", sources.Unsupported("federal", "not csv", nil))
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	sch.RunDue(context.Background())
	s.Equal(1, s.runner.Calls("federal"))
	s.Empty(s.clock.Waits())
	st, _ := sch.Source("federal")
	s.Equal(models.RunFailed, st.State.LastRun.Status)
}

func (s *SchedulerSuite) TestCircuitOpensAndCloses() {
	fatal := sources.Unsupported("federal", "not csv", nil)
	s.runner.script("federal", fatal, fatal)
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")}, WithFailureThreshold(2))

	sch.RunDue(context.Background())
	st, _ := sch.Source("federal")
	s.False(st.Health.CircuitOpen)

	s.clock.Advance(time.Hour)
	sch.RunDue(context.Background())
	st, _ = sch.Source("federal")
	s.True(st.Health.CircuitOpen)

	s.clock.Advance(time.Hour)
	sch.RunDue(context.Background())
	st, _ = sch.Source("federal")
	s.False(st.Health.CircuitOpen)
}

func (s *SchedulerSuite) TestCancelledCycleReturnsToIdle() {
	ctx, cancel := context.WithCancel(context.Background())
	s.runner.hook = func(pipeline.Cycle) { cancel() }
	s.runner.script("federal", context.Canceled)
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	sch.RunDue(ctx)
	st, _ := sch.Source("federal")
	s.Equal(PhaseIdle, st.State.Phase)
	s.Equal(models.RunCancelled, st.State.LastRun.Status)
	s.Zero(st.Health.ConsecutiveFailures)
}

// =============================================================================
// Rate limiting and concurrency
// =============================================================================

type scriptedLimiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (l *scriptedLimiter) Configure(string, models.RateLimit) {}

func (l *scriptedLimiter) TryAcquire(context.Context, string) (ratelimit.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waits) == 0 {
		return ratelimit.Reservation{Granted: true}, nil
	}
	w := l.waits[0]
	l.waits = l.waits[1:]
	return ratelimit.Reservation{Wait: w}, nil
}

func (s *SchedulerSuite) TestRateLimitDefersFetch() {
	limiter := &scriptedLimiter{waits: []time.Duration{5 * time.Second}}
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")}, WithLimiter(limiter))

	sch.RunDue(context.Background())
	s.Equal([]time.Duration{5 * time.Second}, s.clock.Waits())
	s.Equal(1, s.runner.Calls("federal"))
}

func (s *SchedulerSuite) TestRealLimiterDefersSecondTrigger() {
	cfg := sourceCfg("federal")
	cfg.RateLimit = models.RateLimit{RequestsPerSecond: 0.1, Burst: 1}
	sch := s.newScheduler([]*models.SourceConfig{cfg})

	_, err := sch.TriggerCycle(context.Background(), "federal", "ops")
	s.Require().NoError(err)
	s.Empty(s.clock.Waits())

	_, err = sch.TriggerCycle(context.Background(), "federal", "ops")
	s.Require().NoError(err)
	s.Require().Len(s.clock.Waits(), 1)
	s.Equal(10*time.Second, s.clock.Waits()[0])
}

func (s *SchedulerSuite) TestConcurrencyCap() {
	var current, peak atomic.Int32
	s.runner.hook = func(pipeline.Cycle) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
	}
	cfgs := make([]*models.SourceConfig, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cfgs = append(cfgs, sourceCfg(id))
	}
	sch := s.newScheduler(cfgs, WithMaxConcurrent(2))

	sch.RunDue(context.Background())
	s.LessOrEqual(peak.Load(), int32(2))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.Equal(1, s.runner.Calls(id))
	}
}

// =============================================================================
// Manual trigger
// =============================================================================

func (s *SchedulerSuite) TestTriggerCycleRunsSynchronously() {
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	run, err := sch.TriggerCycle(context.Background(), "federal", "ops@vendorgrid")
	s.Require().NoError(err)
	s.Equal(models.RunSucceeded, run.Status)
	s.Equal(models.TriggerManual, run.Trigger)
	s.Equal("ops@vendorgrid", run.Actor)
	s.Equal(1, run.Created)
}

func (s *SchedulerSuite) TestTriggerCycleConflictsWhileRunning() {
	started := make(chan struct{})
	release := make(chan struct{})
	s.runner.hook = func(pipeline.Cycle) {
		close(started)
		<-release
	}
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")})

	done := make(chan *models.IngestionJobRun)
	go func() {
		run, _ := sch.TriggerCycle(context.Background(), "federal", "ops")
		done <- run
	}()
	<-started

	_, err := sch.TriggerCycle(context.Background(), "federal", "ops")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	st, _ := sch.Source("federal")
	s.Equal(PhaseFetching, st.State.Phase)

	close(release)
	run := <-done
	s.Equal(models.RunSucceeded, run.Status)
}

func (s *SchedulerSuite) TestTriggerUnknownSource() {
	sch := s.newScheduler(nil)
	_, err := sch.TriggerCycle(context.Background(), "nope", "ops")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SchedulerSuite) TestStartStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	s.runner.hook = func(pipeline.Cycle) { once.Do(cancel) }
	sch := s.newScheduler([]*models.SourceConfig{sourceCfg("federal")}, WithTick(time.Minute))

	err := sch.Start(ctx)
	s.ErrorIs(err, context.Canceled)
	s.GreaterOrEqual(s.runner.Calls("federal"), 1)
}

// =============================================================================
// State machine
// =============================================================================

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseFetching, true},
		{PhaseFailed, PhaseFetching, true},
		{PhaseFetching, PhaseParsing, true},
		{PhaseParsing, PhaseProcessing, true},
		{PhaseProcessing, PhaseIdle, true},
		{PhaseProcessing, PhaseRetryWait, true},
		{PhaseRetryWait, PhaseFetching, true},
		{PhaseFetching, PhaseFailed, true},
		{PhaseIdle, PhaseProcessing, false},
		{PhaseIdle, PhaseRetryWait, false},
		{PhaseFailed, PhaseIdle, false},
		{PhaseProcessing, PhaseFetching, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			st := SourceState{Phase: tt.from}
			err := st.transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, st.Phase)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, st.Phase)
		})
	}
}

func TestNewRejectsDuplicateSources(t *testing.T) {
	_, err := New(newScriptedRunner(), store.NewInMemoryStore(),
		[]*models.SourceConfig{sourceCfg("a"), sourceCfg("a")})
	assert.ErrorContains(t, err, "duplicate source")
}
