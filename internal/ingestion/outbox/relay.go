// Package outbox relays committed change events to downstream sinks.
//
// Events are written by the persistence gateway in the same transaction as
// the identity change, so the relay only ever sees committed changes.
// Delivery is at-least-once: an event is marked published only after every
// publisher accepted it, and a failed batch is picked up again on the next
// pass. Consumers deduplicate by event_id.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/metrics"
	"vendorgrid/internal/ingestion/models"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 2 * time.Second
)

// EventStore is the outbox side of the persistence gateway.
type EventStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]*models.ChangeEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TxRunner lets a Postgres-backed store lock the fetched rows for the
// duration of a pass.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Relay struct {
	store      EventStore
	publishers []Publisher
	tx         TxRunner
	logger     *slog.Logger
	metrics    *metrics.Metrics
	batchSize  int
	interval   time.Duration
	now        func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithTxRunner(tx TxRunner) Option {
	return func(r *Relay) {
		r.tx = tx
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func New(store EventStore, publishers []Publisher, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if len(publishers) == 0 {
		return nil, errors.New("at least one publisher is required")
	}
	r := &Relay{
		store:      store,
		publishers: publishers,
		logger:     slog.Default(),
		batchSize:  DefaultBatchSize,
		interval:   DefaultInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start relays on every interval until ctx is cancelled. Failed passes are
// logged and retried on the next tick.
func (r *Relay) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce publishes up to one batch in creation order and returns how many
// events were delivered. Delivery stops at the first failing event so a
// vendor's events are never published out of order.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var (
		delivered  int
		publishErr error
	)
	pass := func(ctx context.Context) error {
		events, err := r.store.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := r.publish(ctx, ev); err != nil {
				publishErr = err
				break
			}
			if err := r.store.MarkPublished(ctx, ev.ID, r.now().UTC()); err != nil {
				return fmt.Errorf("mark %s published: %w", ev.ID, err)
			}
			delivered++
		}
		r.metrics.SetOutboxPending(len(events) - delivered)
		return nil
	}

	var err error
	if r.tx != nil {
		err = r.tx.RunInTx(ctx, pass)
	} else {
		err = pass(ctx)
	}
	if err != nil {
		return 0, err
	}
	if delivered > 0 {
		r.logger.DebugContext(ctx, "outbox events published", "count", delivered)
	}
	return delivered, publishErr
}

func (r *Relay) publish(ctx context.Context, ev *models.ChangeEvent) error {
	for _, p := range r.publishers {
		err := p.Publish(ctx, ev)
		r.metrics.RecordPublish(p.Name(), err == nil)
		if err != nil {
			return fmt.Errorf("publish %s %s to %s: %w", ev.EventType, ev.ID, p.Name(), err)
		}
	}
	return nil
}
