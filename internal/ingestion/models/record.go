package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vendorgrid/pkg/platform/sentinel"
)

// IntermediateRecord is one raw record as parsed, keyed by source field name.
type IntermediateRecord struct {
	SourceID string
	// Index is the 0-based record position in the payload.
	Index int
	// Line is the 1-based payload line the record starts on, or 0 when the
	// format has no meaningful lines.
	Line   int
	Fields map[string]string
}

// NormalizedRecord carries only present, non-placeholder values.
type NormalizedRecord struct {
	SourceID        string
	Priority        int
	Method          Method
	CanonicalID     string
	IdentifierField string
	Fields          map[Field]string
}

type RejectReason string

const (
	ReasonNoIdentifier RejectReason = "no_identifier"
	ReasonMalformed    RejectReason = "malformed_source"
)

// RejectedRecord is a record dropped before resolution.
type RejectedRecord struct {
	SourceID string
	Index    int
	Reason   RejectReason
	Detail   string
}

func (r RejectedRecord) String() string {
	return fmt.Sprintf("record %d: %s: %s", r.Index, r.Reason, r.Detail)
}

type IntentKind string

const (
	IntentNone   IntentKind = "none"
	IntentCreate IntentKind = "create"
	IntentUpdate IntentKind = "update"
)

// FieldChange is one entry of an update diff.
type FieldChange struct {
	Field Field
	Old   string
	New   string
}

// Intent is the resolver's decision for one record, ready to commit once
// provenance and audit rows are attached.
type Intent struct {
	Kind   IntentKind
	Source string
	Method Method
	Actor  string
	// Identity is the state after the changes are applied.
	Identity VendorIdentity
	// BaseVersion is the stored version the diff was computed against.
	BaseVersion int64
	Changes     []FieldChange
	Conflicts   []ConflictNote
	Provenance  []ProvenanceRecord
	Audit       []AuditEvent
}

// Empty reports whether committing the intent would change nothing.
func (i *Intent) Empty() bool {
	return i.Kind == IntentNone || len(i.Changes) == 0
}

// Validate checks the structural invariants every commit must satisfy.
func (i *Intent) Validate() error {
	if i.Identity.CanonicalID == "" {
		return ErrMissingCanonicalID
	}
	if i.Identity.ID == uuid.Nil {
		return fmt.Errorf("%w: identity has no id", ErrInvariantViolation)
	}
	if len(i.Provenance) != len(i.Changes) || len(i.Audit) != len(i.Changes) {
		return fmt.Errorf("%w: %d changes, %d provenance records, %d audit events",
			ErrInvariantViolation, len(i.Changes), len(i.Provenance), len(i.Audit))
	}
	for idx, c := range i.Changes {
		if c.Field == FieldCanonicalID && i.Kind == IntentUpdate {
			return ErrCanonicalIDImmutable
		}
		if i.Provenance[idx].Field != c.Field || i.Audit[idx].Field != c.Field {
			return fmt.Errorf("%w: change %d (%s) is not paired with its provenance and audit rows",
				ErrInvariantViolation, idx, c.Field)
		}
	}
	return nil
}

var (
	// ErrIdentityConflict is returned when a Create races another Create for
	// the same canonical id. The loser re-resolves as an Update.
	ErrIdentityConflict = fmt.Errorf("identity conflict: %w", sentinel.ErrConflict)
	// ErrStaleIdentity is returned when an Update was computed against an
	// older version than the one stored.
	ErrStaleIdentity = fmt.Errorf("stale identity version: %w", sentinel.ErrConflict)

	ErrInvariantViolation   = errors.New("invariant violation")
	ErrCanonicalIDImmutable = fmt.Errorf("%w: canonical id is write-once", ErrInvariantViolation)
	ErrMissingCanonicalID   = fmt.Errorf("%w: canonical id is required", ErrInvariantViolation)
)
