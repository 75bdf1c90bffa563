// Package provenance attaches provenance and audit rows to resolved intents.
// Every field change gets exactly one ProvenanceRecord and one AuditEvent;
// the gateway refuses intents where the three lists are not aligned.
package provenance

import (
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/pkg/requestcontext"
)

type Recorder struct {
	now func() time.Time
}

type Option func(*Recorder)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func New(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills intent.Provenance and intent.Audit, replacing anything
// already there so a re-resolved intent never carries stale rows. An empty
// actor is recorded as the ingestion pipeline.
func (r *Recorder) Record(intent *models.Intent, actor string) {
	if actor == "" {
		actor = requestcontext.SystemActor
	}
	intent.Actor = actor
	method := intent.Method
	if method == "" {
		method = models.MethodIngestion
	}

	at := r.now().UTC()
	vendorID := intent.Identity.ID
	intent.Provenance = make([]models.ProvenanceRecord, 0, len(intent.Changes))
	intent.Audit = make([]models.AuditEvent, 0, len(intent.Changes))

	for _, c := range intent.Changes {
		intent.Provenance = append(intent.Provenance, models.ProvenanceRecord{
			ID:            uuid.New(),
			VendorID:      vendorID,
			Field:         c.Field,
			Source:        intent.Source,
			Method:        method,
			Value:         c.New,
			PreviousValue: c.Old,
			RecordedAt:    at,
		})
		intent.Audit = append(intent.Audit, models.AuditEvent{
			ID:        uuid.New(),
			ActorID:   actor,
			Action:    actionFor(intent.Kind, c),
			VendorID:  vendorID,
			Field:     c.Field,
			OldValue:  c.Old,
			NewValue:  c.New,
			Timestamp: at,
		})
	}
}

func actionFor(kind models.IntentKind, c models.FieldChange) models.AuditAction {
	switch {
	case kind == models.IntentCreate:
		return models.ActionVendorCreated
	case c.Field == models.FieldIsActive && c.New == "false":
		return models.ActionVendorDeactivated
	default:
		return models.ActionVendorFieldUpdate
	}
}
