// Package resolve matches normalized records to vendor identities by
// canonical identifier and produces Create or Update intents.
//
// Updates are monotonic: only fields present in the record are compared, and
// an absent field never clears a stored value. The canonical identifier is
// written once at Create and never appears in an Update diff. Records with
// different canonical identifiers always resolve to different identities.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/pkg/platform/sentinel"
)

// IdentityReader is the read side of the persistence gateway the resolver needs.
type IdentityReader interface {
	FindByCanonicalID(ctx context.Context, canonicalID string) (*models.VendorIdentity, error)
}

type Resolver struct {
	reader IdentityReader
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithClock overrides the time source used for conflict notes.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func New(reader IdentityReader, opts ...Option) (*Resolver, error) {
	if reader == nil {
		return nil, errors.New("identity reader is required")
	}
	r := &Resolver{
		reader: reader,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve reads the latest committed identity for rec.CanonicalID and
// returns the intent. A nil ledger disables cross-source arbitration. The
// ledger is only consulted; callers Settle it once the intent is committed.
func (r *Resolver) Resolve(ctx context.Context, rec models.NormalizedRecord, ledger *Ledger) (*models.Intent, error) {
	if rec.CanonicalID == "" {
		return nil, models.ErrMissingCanonicalID
	}

	existing, err := r.reader.FindByCanonicalID(ctx, rec.CanonicalID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("find identity %s: %w", rec.CanonicalID, err)
	}

	intent := &models.Intent{Source: rec.SourceID, Method: rec.Method}
	if existing == nil {
		r.create(ctx, intent, rec, ledger)
	} else {
		r.update(ctx, intent, existing, rec, ledger)
	}
	return intent, nil
}

func (r *Resolver) create(ctx context.Context, intent *models.Intent, rec models.NormalizedRecord, ledger *Ledger) {
	intent.Kind = models.IntentCreate
	intent.Identity = models.VendorIdentity{
		ID:          uuid.New(),
		CanonicalID: rec.CanonicalID,
		IsActive:    true,
		DataSource:  rec.SourceID,
	}
	intent.Changes = append(intent.Changes, models.FieldChange{Field: models.FieldCanonicalID, New: rec.CanonicalID})

	for _, f := range models.MutableFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		if !r.admit(ctx, intent, rec, f, v, ledger) {
			continue
		}
		old := intent.Identity.Get(f)
		if !intent.Identity.Set(f, v) {
			continue
		}
		intent.Changes = append(intent.Changes, models.FieldChange{Field: f, Old: old, New: v})
	}
	// The is_active default is not a sourced value; only record it when the
	// record states it.
	for i := range intent.Changes {
		if intent.Changes[i].Field == models.FieldIsActive {
			intent.Changes[i].Old = ""
		}
	}
}

func (r *Resolver) update(ctx context.Context, intent *models.Intent, existing *models.VendorIdentity, rec models.NormalizedRecord, ledger *Ledger) {
	intent.Identity = *existing.Clone()
	intent.BaseVersion = existing.Version

	for _, f := range models.MutableFields {
		v, ok := rec.Fields[f]
		if !ok {
			continue
		}
		if !r.admit(ctx, intent, rec, f, v, ledger) {
			continue
		}
		old := existing.Get(f)
		if old == v {
			continue
		}
		if !intent.Identity.Set(f, v) {
			continue
		}
		intent.Changes = append(intent.Changes, models.FieldChange{Field: f, Old: old, New: v})
	}

	if len(intent.Changes) == 0 {
		intent.Kind = models.IntentNone
		return
	}
	intent.Kind = models.IntentUpdate
}

// admit applies the source tie-break. A rejected value becomes a conflict
// note on the intent and is logged; it is never dropped silently.
func (r *Resolver) admit(ctx context.Context, intent *models.Intent, rec models.NormalizedRecord, f models.Field, v string, ledger *Ledger) bool {
	if ledger == nil {
		return true
	}
	verdict, standing := ledger.arbitrate(rec.CanonicalID, f, rec.SourceID, rec.Priority, v)
	if verdict == verdictAccept {
		return true
	}

	keptValue, rejectedValue := standing.value, v
	if f.IsSensitive() {
		keptValue, rejectedValue = "[redacted]", "[redacted]"
	}
	note := models.ConflictNote{
		ID:             uuid.New(),
		CanonicalID:    rec.CanonicalID,
		Field:          f,
		KeptSource:     standing.source,
		KeptValue:      keptValue,
		RejectedSource: rec.SourceID,
		RejectedValue:  rejectedValue,
		NotedAt:        r.now(),
	}
	intent.Conflicts = append(intent.Conflicts, note)

	r.logger.WarnContext(ctx, "conflicting source value",
		"canonical_id", rec.CanonicalID,
		"field", string(f),
		"kept_source", standing.source,
		"kept_priority", standing.priority,
		"rejected_source", rec.SourceID,
		"rejected_priority", rec.Priority,
	)
	return false
}
