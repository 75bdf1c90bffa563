// Package service is the read and administrative surface over the ingestion
// core: identity lookup, provenance and audit history, search, change feeds,
// CSV export and manual CSV import. Errors returned here carry domain codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/metrics"
	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/normalize"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/provenance"
	"vendorgrid/internal/ingestion/store"
	dErrors "vendorgrid/pkg/domain-errors"
	"vendorgrid/pkg/platform/sentinel"
	"vendorgrid/pkg/requestcontext"
)

// Store is the persistence gateway surface the service reads and writes.
type Store interface {
	FindByCanonicalID(ctx context.Context, canonicalID string) (*models.VendorIdentity, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.VendorIdentity, error)
	Commit(ctx context.Context, intent *models.Intent) (*models.VendorIdentity, error)
	ListProvenance(ctx context.Context, vendorID uuid.UUID, field models.Field) ([]models.ProvenanceRecord, error)
	ListAudit(ctx context.Context, vendorID uuid.UUID, from, to time.Time) ([]models.AuditEvent, error)
	Search(ctx context.Context, q store.SearchQuery) (*store.Page, error)
	ChangedSince(ctx context.Context, since time.Time, page, pageSize int) (*store.Page, error)
	All(ctx context.Context) ([]*models.VendorIdentity, error)
	Stats(ctx context.Context) (*store.Stats, error)
	ListConflicts(ctx context.Context, canonicalID string, limit int) ([]models.ConflictNote, error)
	SaveRun(ctx context.Context, run *models.IngestionJobRun) error
	ListRuns(ctx context.Context, sourceID string, limit int) ([]*models.IngestionJobRun, error)
	AppendEvent(ctx context.Context, ev *models.ChangeEvent) error
}

// Importer runs a payload through the ingestion pipeline without fetching.
type Importer interface {
	RunReader(ctx context.Context, c pipeline.Cycle, r io.Reader) error
}

const (
	// AdministrativeSource is recorded as the provenance source of changes
	// made through the service rather than a registry.
	AdministrativeSource = "administrative"
	ImportSourceID       = "manual-import"

	DefaultListLimit = 20
	MaxListLimit     = 100
	commitAttempts   = 3
)

// DefaultImportSource is the SourceConfig used for manual CSV imports.
func DefaultImportSource() *models.SourceConfig {
	return &models.SourceConfig{
		ID:        ImportSourceID,
		Name:      "Manual CSV import",
		Format:    models.FormatDelimitedText,
		Priority:  100,
		BatchSize: models.DefaultBatchSize,
	}
}

type Service struct {
	store        Store
	importer     Importer
	recorder     *provenance.Recorder
	importSource *models.SourceConfig
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithImportSource replaces DefaultImportSource.
func WithImportSource(cfg *models.SourceConfig) Option {
	return func(s *Service) {
		s.importSource = cfg
	}
}

func New(st Store, importer Importer, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if importer == nil {
		return nil, errors.New("importer is required")
	}
	s := &Service{
		store:        st,
		importer:     importer,
		importSource: DefaultImportSource(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = provenance.New(provenance.WithClock(s.now))
	return s, nil
}

// GetVendorIdentity looks up an identity by canonical id. The id is
// canonicalized first, so "123-456-789" and "123456789RT0001" both work.
func (s *Service) GetVendorIdentity(ctx context.Context, canonicalID string) (*models.VendorIdentity, error) {
	id, ok := normalize.CanonicalIdentifier(canonicalID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid canonical id")
	}
	v, err := s.store.FindByCanonicalID(ctx, id)
	if err != nil {
		return nil, s.translate(ctx, err, "vendor not found")
	}
	return maskIdentity(v), nil
}

// GetVendor looks up an identity by its internal id.
func (s *Service) GetVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorIdentity, error) {
	v, err := s.store.FindByID(ctx, vendorID)
	if err != nil {
		return nil, s.translate(ctx, err, "vendor not found")
	}
	return maskIdentity(v), nil
}

// GetProvenance returns a vendor's field history, newest first. An empty
// field returns every field.
func (s *Service) GetProvenance(ctx context.Context, vendorID uuid.UUID, field models.Field) ([]models.ProvenanceRecord, error) {
	if field != "" && !field.IsKnown() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", field))
	}
	if _, err := s.store.FindByID(ctx, vendorID); err != nil {
		return nil, s.translate(ctx, err, "vendor not found")
	}
	records, err := s.store.ListProvenance(ctx, vendorID, field)
	if err != nil {
		return nil, s.translate(ctx, err, "failed to read provenance")
	}
	for i := range records {
		if records[i].Field.IsSensitive() {
			records[i].Value = Mask(records[i].Value)
			records[i].PreviousValue = Mask(records[i].PreviousValue)
		}
	}
	return records, nil
}

// GetAuditTrail returns a vendor's audit events within [from, to]. Zero
// bounds are open.
func (s *Service) GetAuditTrail(ctx context.Context, vendorID uuid.UUID, from, to time.Time) ([]models.AuditEvent, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	if _, err := s.store.FindByID(ctx, vendorID); err != nil {
		return nil, s.translate(ctx, err, "vendor not found")
	}
	events, err := s.store.ListAudit(ctx, vendorID, from, to)
	if err != nil {
		return nil, s.translate(ctx, err, "failed to read audit trail")
	}
	for i := range events {
		if events[i].Field.IsSensitive() {
			events[i].OldValue = Mask(events[i].OldValue)
			events[i].NewValue = Mask(events[i].NewValue)
		}
	}
	return events, nil
}

// SearchResult is one page of a search or change feed.
type SearchResult struct {
	Items    []*models.VendorIdentity
	Total    int
	Page     int
	PageSize int
}

// Pages returns the number of pages at PageSize.
func (r SearchResult) Pages() int {
	if r.PageSize == 0 {
		return 0
	}
	return (r.Total + r.PageSize - 1) / r.PageSize
}

// Search matches case-insensitive substrings of any provided term. Without
// terms every identity matches.
func (s *Service) Search(ctx context.Context, q store.SearchQuery) (*SearchResult, error) {
	q.Name = strings.TrimSpace(q.Name)
	q.CanonicalID = strings.TrimSpace(q.CanonicalID)
	q.Address = strings.TrimSpace(q.Address)
	q.ContactEmail = strings.TrimSpace(q.ContactEmail)
	q.Page, q.PageSize = store.ClampPage(q.Page, q.PageSize)

	page, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, s.translate(ctx, err, "search failed")
	}
	return result(page, q.Page, q.PageSize), nil
}

// ChangesSince pages through identities updated after since.
func (s *Service) ChangesSince(ctx context.Context, since time.Time, page, pageSize int) (*SearchResult, error) {
	if since.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "since is required")
	}
	page, pageSize = store.ClampPage(page, pageSize)
	p, err := s.store.ChangedSince(ctx, since, page, pageSize)
	if err != nil {
		return nil, s.translate(ctx, err, "failed to read changes")
	}
	return result(p, page, pageSize), nil
}

func result(p *store.Page, page, pageSize int) *SearchResult {
	items := make([]*models.VendorIdentity, 0, len(p.Items))
	for _, v := range p.Items {
		items = append(items, maskIdentity(v))
	}
	return &SearchResult{Items: items, Total: p.Total, Page: page, PageSize: pageSize}
}

// HealthReport summarizes the identity store.
type HealthReport struct {
	Status       string
	TotalVendors int
	LastUpdated  *time.Time
	CheckedAt    time.Time
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health reports store reachability and size. An unreachable store yields
// an unhealthy report and a CodeUnavailable error.
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{Status: StatusHealthy, CheckedAt: s.now().UTC()}
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "health check failed", "error", err)
		report.Status = StatusUnhealthy
		return report, dErrors.Wrap(err, dErrors.CodeUnavailable, "identity store unavailable")
	}
	report.TotalVendors = st.TotalVendors
	report.LastUpdated = st.LastUpdated
	return report, nil
}

// ListConflicts returns conflict notes, newest first. An empty canonicalID
// lists all.
func (s *Service) ListConflicts(ctx context.Context, canonicalID string, limit int) ([]models.ConflictNote, error) {
	if canonicalID != "" {
		id, ok := normalize.CanonicalIdentifier(canonicalID)
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid canonical id")
		}
		canonicalID = id
	}
	notes, err := s.store.ListConflicts(ctx, canonicalID, clampLimit(limit))
	if err != nil {
		return nil, s.translate(ctx, err, "failed to list conflicts")
	}
	for i := range notes {
		if notes[i].Field.IsSensitive() {
			notes[i].KeptValue = Mask(notes[i].KeptValue)
			notes[i].RejectedValue = Mask(notes[i].RejectedValue)
		}
	}
	return notes, nil
}

// ListRuns returns recent runs, newest first. An empty sourceID lists all.
func (s *Service) ListRuns(ctx context.Context, sourceID string, limit int) ([]*models.IngestionJobRun, error) {
	runs, err := s.store.ListRuns(ctx, sourceID, clampLimit(limit))
	if err != nil {
		return nil, s.translate(ctx, err, "failed to list runs")
	}
	return runs, nil
}

// Deactivate marks an identity inactive through the audited commit path.
// Deactivating an inactive identity is a no-op.
func (s *Service) Deactivate(ctx context.Context, canonicalID, actor string) (*models.VendorIdentity, error) {
	id, ok := normalize.CanonicalIdentifier(canonicalID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid canonical id")
	}
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}

	for attempt := 1; attempt <= commitAttempts; attempt++ {
		current, err := s.store.FindByCanonicalID(ctx, id)
		if err != nil {
			return nil, s.translate(ctx, err, "vendor not found")
		}
		if !current.IsActive {
			return maskIdentity(current), nil
		}

		intent := &models.Intent{
			Kind:        models.IntentUpdate,
			Source:      AdministrativeSource,
			Method:      models.MethodAdministrative,
			Identity:    *current.Clone(),
			BaseVersion: current.Version,
			Changes:     []models.FieldChange{{Field: models.FieldIsActive, Old: "true", New: "false"}},
		}
		intent.Identity.IsActive = false
		s.recorder.Record(intent, actor)

		stored, err := s.store.Commit(ctx, intent)
		if err == nil {
			s.logger.InfoContext(ctx, "vendor deactivated",
				"canonical_id", id,
				"actor", actor,
			)
			return maskIdentity(stored), nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, s.translate(ctx, err, "failed to deactivate vendor")
		}
	}
	return nil, dErrors.New(dErrors.CodeConflict, "vendor changed concurrently, try again")
}

// translate maps store errors to domain errors. Unexpected errors are
// logged and hidden behind CodeInternal.
func (s *Service) translate(ctx context.Context, err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, models.ErrInvariantViolation):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	s.logger.ErrorContext(ctx, msg, "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// Mask hides all but the last four characters of a sensitive value.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	r := []rune(v)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

func maskIdentity(v *models.VendorIdentity) *models.VendorIdentity {
	out := v.Clone()
	out.BankAccount = Mask(out.BankAccount)
	return out
}
