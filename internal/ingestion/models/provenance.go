package models

import (
	"time"

	"github.com/google/uuid"
)

// Method records how a value reached the identity.
type Method string

const (
	MethodIngestion      Method = "ingestion"
	MethodManualImport   Method = "manual_import"
	MethodAdministrative Method = "administrative"
)

// ProvenanceRecord is the immutable history entry for one field assignment.
type ProvenanceRecord struct {
	ID            uuid.UUID
	VendorID      uuid.UUID
	Field         Field
	Source        string
	Method        Method
	Value         string
	PreviousValue string
	RecordedAt    time.Time
	// Seq orders records that share RecordedAt. Assigned by the gateway.
	Seq int64
}

// AuditAction names the kind of audited change.
type AuditAction string

const (
	ActionVendorCreated     AuditAction = "vendor_created"
	ActionVendorFieldUpdate AuditAction = "vendor_field_updated"
	ActionVendorDeactivated AuditAction = "vendor_deactivated"
)

// AuditEvent is the append-only record of who changed what.
type AuditEvent struct {
	ID        uuid.UUID
	ActorID   string
	Action    AuditAction
	VendorID  uuid.UUID
	Field     Field
	OldValue  string
	NewValue  string
	Timestamp time.Time
}

// ConflictNote is kept for human review when two sources disagree and the
// tie-break discarded one value.
type ConflictNote struct {
	ID             uuid.UUID
	RunID          uuid.UUID
	CanonicalID    string
	Field          Field
	KeptSource     string
	KeptValue      string
	RejectedSource string
	RejectedValue  string
	NotedAt        time.Time
}
