// Package handler is the administrative HTTP adapter over the ingestion
// service and scheduler.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/scheduler"
	"vendorgrid/internal/ingestion/service"
	"vendorgrid/internal/ingestion/store"
	"vendorgrid/internal/platform/metrics"
	"vendorgrid/internal/platform/middleware"
	dErrors "vendorgrid/pkg/domain-errors"
	"vendorgrid/pkg/platform/httputil"
	"vendorgrid/pkg/requestcontext"
)

// MaxImportBytes bounds an uploaded CSV.
const MaxImportBytes = 32 << 20

// Service is the read and administrative surface the handler exposes.
type Service interface {
	GetVendorIdentity(ctx context.Context, canonicalID string) (*models.VendorIdentity, error)
	GetVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorIdentity, error)
	GetProvenance(ctx context.Context, vendorID uuid.UUID, field models.Field) ([]models.ProvenanceRecord, error)
	GetAuditTrail(ctx context.Context, vendorID uuid.UUID, from, to time.Time) ([]models.AuditEvent, error)
	Search(ctx context.Context, q store.SearchQuery) (*service.SearchResult, error)
	ChangesSince(ctx context.Context, since time.Time, page, pageSize int) (*service.SearchResult, error)
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
	ImportCSV(ctx context.Context, actor string, r io.Reader) (*service.ImportReport, error)
	Deactivate(ctx context.Context, canonicalID, actor string) (*models.VendorIdentity, error)
	Health(ctx context.Context) (*service.HealthReport, error)
	ListConflicts(ctx context.Context, canonicalID string, limit int) ([]models.ConflictNote, error)
	ListRuns(ctx context.Context, sourceID string, limit int) ([]*models.IngestionJobRun, error)
}

// Scheduler exposes source state and manual triggers.
type Scheduler interface {
	Sources() []scheduler.SourceStatus
	Source(sourceID string) (scheduler.SourceStatus, error)
	TriggerCycle(ctx context.Context, sourceID, actor string) (*models.IngestionJobRun, error)
}

type Handler struct {
	logger    *slog.Logger
	service   Service
	scheduler Scheduler
	metrics   *metrics.Metrics
	verify    middleware.TokenVerifier
}

func New(
	svc Service,
	sched Scheduler,
	verify middleware.TokenVerifier,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		logger:    logger,
		service:   svc,
		scheduler: sched,
		metrics:   m,
		verify:    verify,
	}
}

// Register mounts the admin routes. /health is unauthenticated.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.RequestContext)
	router.Use(chimw.Recoverer)
	router.Use(httplog.RequestLogger(h.logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS.Concise(true),
	}))
	router.Use(middleware.Latency(h.metrics))

	router.Get("/health", h.handleHealth)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperator(h.verify, h.metrics, h.logger))

		r.Get("/vendors/search", h.handleSearch)
		r.Get("/vendors/changes", h.handleChanges)
		r.Get("/vendors/export", h.handleExport)
		r.Post("/vendors/import", h.handleImport)
		r.Get("/vendors/{id}", h.handleGetVendor)
		r.Get("/vendors/{id}/provenance", h.handleProvenance)
		r.Get("/vendors/{id}/audit", h.handleAudit)
		r.Post("/vendors/{id}/deactivate", h.handleDeactivate)

		r.Get("/conflicts", h.handleConflicts)

		r.Get("/sources", h.handleListSources)
		r.Get("/sources/{sourceID}", h.handleGetSource)
		r.Get("/sources/{sourceID}/runs", h.handleListRuns)
		r.Post("/sources/{sourceID}/trigger", h.handleTrigger)
	})

	r.Mount("/", router)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Health(r.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	resp := HealthResponse{Status: service.StatusUnhealthy, Timestamp: requestcontext.Now(r.Context()).UTC()}
	if report != nil {
		resp.Status = report.Status
		resp.TotalVendors = report.TotalVendors
		resp.LastUpdated = report.LastUpdated
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.service.Search(r.Context(), store.SearchQuery{
		Name:         q.Get("name"),
		CanonicalID:  firstOf(q.Get("canonical_id"), q.Get("tax_id")),
		Address:      q.Get("address"),
		ContactEmail: q.Get("contact_email"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPageResponse(res))
}

func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	since, err := parseTime(r.URL.Query().Get("since"), "since")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.service.ChangesSince(r.Context(), since, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPageResponse(res))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=vendors.csv")
	n, err := h.service.ExportCSV(r.Context(), w)
	if err != nil {
		// Headers may already be on the wire; all we can do is log.
		h.logger.ErrorContext(r.Context(), "vendor export failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return
	}
	h.logger.InfoContext(r.Context(), "vendors exported",
		"request_id", requestcontext.RequestID(r.Context()),
		"count", n,
	)
}

// handleImport accepts either a multipart form with a "file" part or a raw
// CSV body.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "multipart upload must include a file part"))
			return
		}
		defer file.Close()
		body = file
	}

	report, err := h.service.ImportCSV(ctx, requestcontext.Actor(ctx), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toImportResponse(report))
}

func (h *Handler) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := h.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVendorResponse(v))
}

func (h *Handler) handleProvenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.lookup(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.service.GetProvenance(ctx, v.ID, models.Field(r.URL.Query().Get("field")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ProvenanceResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, ProvenanceResponse{
			Field:         rec.Field,
			Source:        rec.Source,
			Method:        rec.Method,
			Value:         rec.Value,
			PreviousValue: rec.PreviousValue,
			RecordedAt:    rec.RecordedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := parseOptionalTime(r.URL.Query().Get("from"), "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseOptionalTime(r.URL.Query().Get("to"), "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.lookup(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.service.GetAuditTrail(ctx, v.ID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AuditResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, AuditResponse{
			ID:        ev.ID,
			ActorID:   ev.ActorID,
			Action:    ev.Action,
			Field:     ev.Field,
			OldValue:  ev.OldValue,
			NewValue:  ev.NewValue,
			Timestamp: ev.Timestamp,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.service.Deactivate(ctx, chi.URLParam(r, "id"), requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVendorResponse(v))
}

func (h *Handler) handleConflicts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	notes, err := h.service.ListConflicts(r.Context(), r.URL.Query().Get("canonical_id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ConflictResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, ConflictResponse{
			RunID:          n.RunID,
			CanonicalID:    n.CanonicalID,
			Field:          n.Field,
			KeptSource:     n.KeptSource,
			KeptValue:      n.KeptValue,
			RejectedSource: n.RejectedSource,
			RejectedValue:  n.RejectedValue,
			NotedAt:        n.NotedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListSources(w http.ResponseWriter, r *http.Request) {
	statuses := h.scheduler.Sources()
	out := make([]SourceResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, toSourceResponse(s))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSource(w http.ResponseWriter, r *http.Request) {
	status, err := h.scheduler.Source(chi.URLParam(r, "sourceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSourceResponse(status))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sourceID := chi.URLParam(r, "sourceID")
	if _, err := h.scheduler.Source(sourceID); err != nil && sourceID != service.ImportSourceID {
		h.writeError(w, r, err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), sourceID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// handleTrigger runs one cycle synchronously and returns its run record.
// A failed cycle is still a 200; the failure is on the run.
func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceID := chi.URLParam(r, "sourceID")
	run, err := h.scheduler.TriggerCycle(ctx, sourceID, requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "manual cycle finished",
		"request_id", requestcontext.RequestID(ctx),
		"source_id", sourceID,
		"run_id", run.ID,
		"status", run.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

// lookup accepts either an internal uuid or a canonical id.
func (h *Handler) lookup(ctx context.Context, id string) (*models.VendorIdentity, error) {
	if vendorID, err := uuid.Parse(id); err == nil {
		return h.service.GetVendor(ctx, vendorID)
	}
	return h.service.GetVendorIdentity(ctx, id)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, "request rejected",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func paging(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(r, "page_size", store.DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, name+" must be an integer")
	}
	return n, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, name+" is required")
	}
	return parseOptionalTime(raw, name)
}

func parseOptionalTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
