package handler

import (
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/scheduler"
	"vendorgrid/internal/ingestion/service"
)

type VendorResponse struct {
	ID                  uuid.UUID `json:"id"`
	CanonicalID         string    `json:"canonical_id"`
	Name                string    `json:"name,omitempty"`
	Address             string    `json:"address,omitempty"`
	City                string    `json:"city,omitempty"`
	Region              string    `json:"region,omitempty"`
	PostalCode          string    `json:"postal_code,omitempty"`
	CountryCode         string    `json:"country_code,omitempty"`
	IndustryCode        string    `json:"industry_code,omitempty"`
	IndustryDescription string    `json:"industry_description,omitempty"`
	LegalStructure      string    `json:"legal_structure,omitempty"`
	ContactEmail        string    `json:"contact_email,omitempty"`
	ContactPhone        string    `json:"contact_phone,omitempty"`
	Website             string    `json:"website,omitempty"`
	BankAccount         string    `json:"bank_account,omitempty"`
	IsActive            bool      `json:"is_active"`
	DataSource          string    `json:"data_source"`
	Version             int64     `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toVendorResponse(v *models.VendorIdentity) VendorResponse {
	return VendorResponse{
		ID:                  v.ID,
		CanonicalID:         v.CanonicalID,
		Name:                v.Name,
		Address:             v.Address,
		City:                v.City,
		Region:              v.Region,
		PostalCode:          v.PostalCode,
		CountryCode:         v.CountryCode,
		IndustryCode:        v.IndustryCode,
		IndustryDescription: v.IndustryDescription,
		LegalStructure:      v.LegalStructure,
		ContactEmail:        v.ContactEmail,
		ContactPhone:        v.ContactPhone,
		Website:             v.Website,
		BankAccount:         v.BankAccount,
		IsActive:            v.IsActive,
		DataSource:          v.DataSource,
		Version:             v.Version,
		CreatedAt:           v.CreatedAt,
		UpdatedAt:           v.UpdatedAt,
	}
}

type PageResponse struct {
	Items    []VendorResponse `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Pages    int              `json:"pages"`
}

func toPageResponse(r *service.SearchResult) PageResponse {
	out := PageResponse{
		Items:    make([]VendorResponse, 0, len(r.Items)),
		Total:    r.Total,
		Page:     r.Page,
		PageSize: r.PageSize,
		Pages:    r.Pages(),
	}
	for _, v := range r.Items {
		out.Items = append(out.Items, toVendorResponse(v))
	}
	return out
}

type ProvenanceResponse struct {
	Field         models.Field  `json:"field"`
	Source        string        `json:"source"`
	Method        models.Method `json:"method"`
	Value         string        `json:"value"`
	PreviousValue string        `json:"previous_value,omitempty"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

type AuditResponse struct {
	ID        uuid.UUID          `json:"id"`
	ActorID   string             `json:"actor_id"`
	Action    models.AuditAction `json:"action"`
	Field     models.Field       `json:"field"`
	OldValue  string             `json:"old_value,omitempty"`
	NewValue  string             `json:"new_value,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type ConflictResponse struct {
	RunID          uuid.UUID    `json:"run_id"`
	CanonicalID    string       `json:"canonical_id"`
	Field          models.Field `json:"field"`
	KeptSource     string       `json:"kept_source"`
	KeptValue      string       `json:"kept_value"`
	RejectedSource string       `json:"rejected_source"`
	RejectedValue  string       `json:"rejected_value"`
	NotedAt        time.Time    `json:"noted_at"`
}

type RunResponse struct {
	ID           uuid.UUID        `json:"id"`
	SourceID     string           `json:"source_id"`
	Actor        string           `json:"actor"`
	Trigger      models.Trigger   `json:"trigger"`
	Status       models.RunStatus `json:"status"`
	Attempts     int              `json:"attempts"`
	Seen         int              `json:"seen"`
	Created      int              `json:"created"`
	Updated      int              `json:"updated"`
	Unchanged    int              `json:"unchanged"`
	Rejected     int              `json:"rejected"`
	Malformed    int              `json:"malformed"`
	Conflicts    int              `json:"conflicts"`
	ErrorSamples []string         `json:"error_samples,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	DurationMS   int64            `json:"duration_ms"`
}

func toRunResponse(r *models.IngestionJobRun) RunResponse {
	out := RunResponse{
		ID:           r.ID,
		SourceID:     r.SourceID,
		Actor:        r.Actor,
		Trigger:      r.Trigger,
		Status:       r.Status,
		Attempts:     r.Attempts,
		Seen:         r.Seen,
		Created:      r.Created,
		Updated:      r.Updated,
		Unchanged:    r.Unchanged,
		Rejected:     r.Rejected,
		Malformed:    r.Malformed,
		Conflicts:    r.Conflicts,
		ErrorSamples: r.ErrorSamples,
		StartedAt:    r.StartedAt,
		DurationMS:   r.Duration().Milliseconds(),
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

type SourceResponse struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Priority            int              `json:"priority"`
	Phase               scheduler.Phase  `json:"phase"`
	Attempt             int              `json:"attempt,omitempty"`
	NextRunAt           *time.Time       `json:"next_run_at,omitempty"`
	LastStatus          models.RunStatus `json:"last_status,omitempty"`
	LastRunAt           *time.Time       `json:"last_run_at,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	CircuitOpen         bool             `json:"circuit_open"`
}

func toSourceResponse(s scheduler.SourceStatus) SourceResponse {
	out := SourceResponse{
		ID:                  s.ID,
		Name:                s.Name,
		Priority:            s.Priority,
		Phase:               s.State.Phase,
		Attempt:             s.State.Attempt,
		LastStatus:          s.Health.LastStatus,
		LastError:           s.Health.LastError,
		ConsecutiveFailures: s.Health.ConsecutiveFailures,
		CircuitOpen:         s.Health.CircuitOpen,
	}
	if !s.State.NextRunAt.IsZero() {
		t := s.State.NextRunAt
		out.NextRunAt = &t
	}
	if !s.Health.LastRunAt.IsZero() {
		t := s.Health.LastRunAt
		out.LastRunAt = &t
	}
	return out
}

type ImportErrorResponse struct {
	RowNumber int    `json:"row_number"`
	Field     string `json:"field"`
	Error     string `json:"error"`
}

type ImportResponse struct {
	RunID        uuid.UUID             `json:"run_id"`
	TotalRows    int                   `json:"total_rows"`
	SuccessCount int                   `json:"success_count"`
	ErrorCount   int                   `json:"error_count"`
	Errors       []ImportErrorResponse `json:"errors"`
}

func toImportResponse(r *service.ImportReport) ImportResponse {
	out := ImportResponse{
		RunID:        r.RunID,
		TotalRows:    r.TotalRows,
		SuccessCount: r.SuccessCount,
		ErrorCount:   r.ErrorCount,
		Errors:       make([]ImportErrorResponse, 0, len(r.Errors)),
	}
	for _, e := range r.Errors {
		out.Errors = append(out.Errors, ImportErrorResponse{RowNumber: e.Row, Field: e.Field, Error: e.Error})
	}
	return out
}

type HealthResponse struct {
	Status       string     `json:"status"`
	TotalVendors int        `json:"total_vendors"`
	LastUpdated  *time.Time `json:"last_updated"`
	Timestamp    time.Time  `json:"timestamp"`
}
