package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// MaxErrorSamples bounds IngestionJobRun.ErrorSamples.
const MaxErrorSamples = 20

// IngestionJobRun is the bookkeeping for one cycle of one source.
type IngestionJobRun struct {
	ID           uuid.UUID
	SourceID     string
	Actor        string
	Trigger      Trigger
	Status       RunStatus
	Attempts     int
	Seen         int
	Created      int
	Updated      int
	Unchanged    int
	Rejected     int
	Malformed    int
	Conflicts    int
	ErrorSamples []string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// NewRun starts a run record.
func NewRun(sourceID, actor string, trigger Trigger, now time.Time) *IngestionJobRun {
	return &IngestionJobRun{
		ID:        uuid.New(),
		SourceID:  sourceID,
		Actor:     actor,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: now,
	}
}

// AddError keeps the first MaxErrorSamples messages.
func (r *IngestionJobRun) AddError(msg string) {
	if len(r.ErrorSamples) < MaxErrorSamples {
		r.ErrorSamples = append(r.ErrorSamples, msg)
	}
}

// Finish stamps the terminal status.
func (r *IngestionJobRun) Finish(status RunStatus, now time.Time) {
	r.Status = status
	r.FinishedAt = now
}

func (r *IngestionJobRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a copy that shares no slices with r.
func (r *IngestionJobRun) Clone() *IngestionJobRun {
	if r == nil {
		return nil
	}
	c := *r
	c.ErrorSamples = append([]string(nil), r.ErrorSamples...)
	return &c
}
