// Package pipeline runs one ingestion attempt for one source: fetch, parse
// lazily into bounded batches, then normalize, resolve, record and commit
// each record. Data-quality problems are counted on the run and never stop
// the attempt; source failures end it with a categorized error so the
// scheduler can decide whether to retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vendorgrid/internal/ingestion/metrics"
	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/normalize"
	"vendorgrid/internal/ingestion/provenance"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/sources"
	"vendorgrid/pkg/platform/sentinel"
	"vendorgrid/pkg/requestcontext"
)

// DefaultCommitAttempts bounds re-resolution after a concurrent write.
const DefaultCommitAttempts = 3

// Gateway is the slice of the persistence gateway the pipeline writes through.
type Gateway interface {
	resolve.IdentityReader
	Commit(ctx context.Context, intent *models.Intent) (*models.VendorIdentity, error)
	SaveConflicts(ctx context.Context, notes []models.ConflictNote) error
}

// Stage is reported to Cycle.OnStage as the attempt progresses.
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageParsing    Stage = "parsing"
	StageProcessing Stage = "processing"
)

// Cycle carries one attempt's inputs. Run is updated in place and
// accumulates across attempts.
type Cycle struct {
	Source *models.SourceConfig
	Run    *models.IngestionJobRun
	Ledger *resolve.Ledger
	Actor  string
	// Method overrides the provenance method; empty means ingestion.
	Method models.Method
	// OnStage, when set, is called on every stage change.
	OnStage func(Stage)
	// OnReject, when set, receives every record that was not committed
	// because of a data-quality problem.
	OnReject func(RecordError)
}

// RecordError describes one record-level failure.
type RecordError struct {
	Index int
	// Line is the payload line when the parser knows it, otherwise 0.
	Line   int
	Field  string
	Reason string
}

type Pipeline struct {
	adapter        sources.Adapter
	normalizer     *normalize.Normalizer
	resolver       *resolve.Resolver
	recorder       *provenance.Recorder
	gateway        Gateway
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	commitAttempts int
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

func WithCommitAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.commitAttempts = n
		}
	}
}

func New(adapter sources.Adapter, normalizer *normalize.Normalizer, resolver *resolve.Resolver,
	recorder *provenance.Recorder, gateway Gateway, opts ...Option,
) (*Pipeline, error) {
	if adapter == nil || normalizer == nil || resolver == nil || recorder == nil || gateway == nil {
		return nil, errors.New("adapter, normalizer, resolver, recorder and gateway are required")
	}
	p := &Pipeline{
		adapter:        adapter,
		normalizer:     normalizer,
		resolver:       resolver,
		recorder:       recorder,
		gateway:        gateway,
		logger:         slog.Default(),
		tracer:         otel.Tracer("vendorgrid/ingestion"),
		commitAttempts: DefaultCommitAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run fetches the source and processes its payload.
func (p *Pipeline) Run(ctx context.Context, c Cycle) error {
	ctx, span := p.tracer.Start(ctx, "ingestion.cycle", trace.WithAttributes(
		attribute.String("source.id", c.Source.ID),
		attribute.String("run.id", c.Run.ID.String()),
		attribute.Int("run.attempt", c.Run.Attempts),
	))
	defer span.End()

	c.stage(StageFetching)
	body, err := p.adapter.Fetch(ctx, c.Source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return err
	}
	defer body.Close()

	err = p.process(ctx, c, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
	}
	span.SetAttributes(
		attribute.Int("run.seen", c.Run.Seen),
		attribute.Int("run.created", c.Run.Created),
		attribute.Int("run.updated", c.Run.Updated),
	)
	return err
}

// RunReader processes an already open payload, skipping the fetch. Manual
// imports use it.
func (p *Pipeline) RunReader(ctx context.Context, c Cycle, r io.Reader) error {
	ctx, span := p.tracer.Start(ctx, "ingestion.import", trace.WithAttributes(
		attribute.String("source.id", c.Source.ID),
		attribute.String("run.id", c.Run.ID.String()),
	))
	defer span.End()

	err := p.process(ctx, c, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
	}
	return err
}

type item struct {
	rec models.IntermediateRecord
	err error
}

// process parses on a producer goroutine into a channel of batches with room
// for one, so parsing batch N+1 overlaps committing batch N. The consumer
// observes cancellation between batches. process does not return until the
// producer has stopped reading r.
func (p *Pipeline) process(ctx context.Context, c Cycle, r io.Reader) error {
	c.stage(StageParsing)

	parseCtx, cancel := context.WithCancel(ctx)
	batchSize := c.Source.EffectiveBatchSize()
	batches := make(chan []item, 1)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Go(func() {
		defer close(batches)
		batch := make([]item, 0, batchSize)
		send := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case batches <- batch:
				batch = make([]item, 0, batchSize)
				return true
			case <-parseCtx.Done():
				return false
			}
		}
		for rec, err := range p.adapter.Parse(parseCtx, r, c.Source) {
			if parseCtx.Err() != nil {
				return
			}
			batch = append(batch, item{rec: rec, err: err})
			if err != nil && !isMalformed(err) {
				send()
				return
			}
			if len(batch) == batchSize && !send() {
				return
			}
		}
		send()
	})

	processing := false
	for batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !processing {
			c.stage(StageProcessing)
			processing = true
		}
		if err := p.processBatch(ctx, c, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) processBatch(ctx context.Context, c Cycle, batch []item) error {
	var notes []models.ConflictNote
	for _, it := range batch {
		if it.err != nil {
			if !isMalformed(it.err) {
				return it.err
			}
			c.Run.Seen++
			c.Run.Malformed++
			c.Run.AddError(it.err.Error())
			p.metrics.RecordOutcome(c.Source.ID, metrics.OutcomeMalformed)
			index, line := positionOf(it.err)
			c.reject(RecordError{Index: index, Line: line, Reason: it.err.Error()})
			continue
		}

		c.Run.Seen++
		outcome, recNotes, err := p.processRecord(ctx, c, it.rec)
		notes = append(notes, recNotes...)
		if err != nil {
			return err
		}
		p.metrics.RecordOutcome(c.Source.ID, outcome)
	}

	if len(notes) == 0 {
		return nil
	}
	for i := range notes {
		notes[i].RunID = c.Run.ID
	}
	c.Run.Conflicts += len(notes)
	p.metrics.AddConflicts(c.Source.ID, len(notes))
	if err := p.gateway.SaveConflicts(ctx, notes); err != nil {
		p.logger.ErrorContext(ctx, "failed to save conflict notes",
			"source_id", c.Source.ID,
			"run_id", c.Run.ID,
			"count", len(notes),
			"error", err,
		)
	}
	return nil
}

// processRecord returns the outcome and the conflict notes of the final
// resolution. A non-nil error ends the attempt.
func (p *Pipeline) processRecord(ctx context.Context, c Cycle, rec models.IntermediateRecord) (string, []models.ConflictNote, error) {
	norm, rejected := p.normalizer.Normalize(rec, c.Source)
	if rejected != nil {
		c.Run.Rejected++
		c.Run.AddError(rejected.String())
		c.reject(RecordError{Index: rec.Index, Line: rec.Line, Field: "identifier", Reason: rejected.Detail})
		return metrics.OutcomeRejected, nil, nil
	}
	if c.Method != "" {
		norm.Method = c.Method
	}

	actor := c.Actor
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= p.commitAttempts; attempt++ {
		intent, err := p.resolver.Resolve(ctx, norm, c.Ledger)
		if err != nil {
			return metrics.OutcomeFailed, nil, fmt.Errorf("resolve %s: %w", norm.CanonicalID, err)
		}
		if intent.Kind == models.IntentNone {
			c.Ledger.Settle(norm, intent.Conflicts)
			c.Run.Unchanged++
			return metrics.OutcomeUnchanged, intent.Conflicts, nil
		}

		p.recorder.Record(intent, actor)
		_, err = p.gateway.Commit(ctx, intent)
		switch {
		case err == nil:
			c.Ledger.Settle(norm, intent.Conflicts)
			if intent.Kind == models.IntentCreate {
				c.Run.Created++
				return metrics.OutcomeCreated, intent.Conflicts, nil
			}
			c.Run.Updated++
			return metrics.OutcomeUpdated, intent.Conflicts, nil
		case errors.Is(err, sentinel.ErrConflict):
			lastErr = err
			p.metrics.IncrementCommitRetry(c.Source.ID)
			p.logger.DebugContext(ctx, "commit raced a concurrent write, re-resolving",
				"source_id", c.Source.ID,
				"canonical_id", norm.CanonicalID,
				"attempt", attempt,
			)
		case errors.Is(err, models.ErrInvariantViolation):
			p.logger.ErrorContext(ctx, "invariant violation, commit aborted",
				"source_id", c.Source.ID,
				"run_id", c.Run.ID,
				"canonical_id", norm.CanonicalID,
				"error", err,
			)
			c.Run.AddError(fmt.Sprintf("record %d: %v", rec.Index, err))
			c.reject(RecordError{Index: rec.Index, Line: rec.Line, Reason: err.Error()})
			return metrics.OutcomeFailed, nil, nil
		default:
			return metrics.OutcomeFailed, nil, fmt.Errorf("commit %s: %w", norm.CanonicalID, err)
		}
	}

	p.logger.WarnContext(ctx, "commit retries exhausted",
		"source_id", c.Source.ID,
		"canonical_id", norm.CanonicalID,
		"error", lastErr,
	)
	c.Run.AddError(fmt.Sprintf("record %d: %s: %v", rec.Index, norm.CanonicalID, lastErr))
	c.reject(RecordError{Index: rec.Index, Line: rec.Line, Reason: lastErr.Error()})
	return metrics.OutcomeFailed, nil, nil
}

func (c Cycle) stage(s Stage) {
	if c.OnStage != nil {
		c.OnStage(s)
	}
}

func (c Cycle) reject(e RecordError) {
	if c.OnReject != nil {
		c.OnReject(e)
	}
}

func isMalformed(err error) bool {
	return sources.GetCategory(err) == sources.ErrorMalformedSource
}

func positionOf(err error) (index, line int) {
	var se *sources.SourceError
	if errors.As(err, &se) {
		return se.Index, se.Line
	}
	return -1, 0
}
