package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventSource is stamped on every outbound change event.
const EventSource = "vendorgrid"

type EventType string

const (
	EventVendorCreated     EventType = "vendor.created"
	EventVendorUpdated     EventType = "vendor.updated"
	EventVendorDeactivated EventType = "vendor.deactivated"
	EventVendorImported    EventType = "vendor.imported"
)

// ChangeEvent is an outbox row. Payload is the JSON published downstream.
type ChangeEvent struct {
	ID          uuid.UUID
	EventType   EventType
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// EventPayload is the wire shape of a change event.
type EventPayload struct {
	EventType EventType      `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source"`
}

// NewChangeEvent builds the outbox row for a committed intent. Sensitive
// field values never leave the gateway in events.
func NewChangeEvent(intent *Intent, stored *VendorIdentity, at time.Time) (*ChangeEvent, error) {
	eventType := EventVendorUpdated
	if intent.Kind == IntentCreate {
		eventType = EventVendorCreated
	}
	changed := make([]string, 0, len(intent.Changes))
	for _, c := range intent.Changes {
		changed = append(changed, string(c.Field))
		if c.Field == FieldIsActive && c.New == "false" && intent.Kind == IntentUpdate {
			eventType = EventVendorDeactivated
		}
	}
	data := EventData(stored)
	data["changed_fields"] = changed
	data["source_id"] = intent.Source
	return newEvent(eventType, stored.CanonicalID, data, at)
}

// NewImportEvent builds the outbox row announcing a finished manual import.
func NewImportEvent(run *IngestionJobRun, at time.Time) (*ChangeEvent, error) {
	data := map[string]any{
		"run_id":    run.ID.String(),
		"source_id": run.SourceID,
		"actor":     run.Actor,
		"seen":      run.Seen,
		"created":   run.Created,
		"updated":   run.Updated,
		"rejected":  run.Rejected + run.Malformed,
	}
	return newEvent(EventVendorImported, run.ID.String(), data, at)
}

// EventData is the public projection of an identity.
func EventData(v *VendorIdentity) map[string]any {
	return map[string]any{
		"id":            v.ID.String(),
		"canonical_id":  v.CanonicalID,
		"name":          v.Name,
		"address":       v.Address,
		"city":          v.City,
		"region":        v.Region,
		"postal_code":   v.PostalCode,
		"country_code":  v.CountryCode,
		"contact_email": v.ContactEmail,
		"is_active":     v.IsActive,
		"version":       v.Version,
		"updated_at":    v.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func newEvent(eventType EventType, aggregateID string, data map[string]any, at time.Time) (*ChangeEvent, error) {
	id := uuid.New()
	payload, err := json.Marshal(EventPayload{
		EventType: eventType,
		EventID:   id.String(),
		Timestamp: at.UTC(),
		Data:      data,
		Source:    EventSource,
	})
	if err != nil {
		return nil, err
	}
	return &ChangeEvent{
		ID:          id,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}
