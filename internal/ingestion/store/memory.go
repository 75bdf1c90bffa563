package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/pkg/platform/sentinel"
	"vendorgrid/pkg/requestcontext"
)

// InMemoryStore is a gateway backed by maps. Rows are stored sealed, exactly
// as the postgres gateway stores them.
type InMemoryStore struct {
	sealer
	keys *keyLock

	mu          sync.RWMutex
	byCanonical map[string]*models.VendorIdentity
	byID        map[uuid.UUID]string
	provenance  map[uuid.UUID][]models.ProvenanceRecord
	audit       []models.AuditEvent
	conflicts   []models.ConflictNote
	runs        map[uuid.UUID]*models.IngestionJobRun
	outbox      []*models.ChangeEvent
	seq         int64
}

type MemoryOption func(*InMemoryStore)

// WithCipher encrypts sensitive fields at rest.
func WithCipher(c Cipher) MemoryOption {
	return func(s *InMemoryStore) {
		s.cipher = c
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		keys:        newKeyLock(),
		byCanonical: make(map[string]*models.VendorIdentity),
		byID:        make(map[uuid.UUID]string),
		provenance:  make(map[uuid.UUID][]models.ProvenanceRecord),
		runs:        make(map[uuid.UUID]*models.IngestionJobRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) FindByCanonicalID(_ context.Context, canonicalID string) (*models.VendorIdentity, error) {
	s.mu.RLock()
	v, ok := s.byCanonical[canonicalID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.openIdentity(v)
}

func (s *InMemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*models.VendorIdentity, error) {
	s.mu.RLock()
	canonical, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.FindByCanonicalID(ctx, canonical)
}

// Commit applies the intent atomically. A Create for an existing canonical id
// fails with models.ErrIdentityConflict; an Update whose BaseVersion no longer
// matches fails with models.ErrStaleIdentity. Nothing is written on failure.
func (s *InMemoryStore) Commit(ctx context.Context, intent *models.Intent) (*models.VendorIdentity, error) {
	if intent == nil {
		return nil, fmt.Errorf("intent is required")
	}
	unlock := s.keys.lock(intent.Identity.CanonicalID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	current := s.byCanonical[intent.Identity.CanonicalID]
	s.mu.RUnlock()

	p, err := s.prepare(intent, current, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCanonical[p.identity.CanonicalID] = p.identity
	s.byID[p.identity.ID] = p.identity.CanonicalID
	for _, rec := range p.provenance {
		s.seq++
		rec.Seq = s.seq
		s.provenance[rec.VendorID] = append(s.provenance[rec.VendorID], rec)
	}
	s.audit = append(s.audit, p.audit...)
	s.outbox = append(s.outbox, p.event)
	return p.plain, nil
}

// ListProvenance returns the field history for a vendor, newest first. An
// empty field lists every field.
func (s *InMemoryStore) ListProvenance(_ context.Context, vendorID uuid.UUID, field models.Field) ([]models.ProvenanceRecord, error) {
	s.mu.RLock()
	rows := s.provenance[vendorID]
	out := make([]models.ProvenanceRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if field != "" && rows[i].Field != field {
			continue
		}
		out = append(out, rows[i])
	}
	s.mu.RUnlock()

	for i := range out {
		opened, err := s.openProvenance(out[i])
		if err != nil {
			return nil, err
		}
		out[i] = opened
	}
	return out, nil
}

// ListAudit returns audit events for a vendor within [from, to], oldest
// first. Zero bounds are open.
func (s *InMemoryStore) ListAudit(_ context.Context, vendorID uuid.UUID, from, to time.Time) ([]models.AuditEvent, error) {
	s.mu.RLock()
	var out []models.AuditEvent
	for _, ev := range s.audit {
		if ev.VendorID != vendorID {
			continue
		}
		if !from.IsZero() && ev.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && ev.Timestamp.After(to) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.RUnlock()

	for i := range out {
		opened, err := s.openAudit(out[i])
		if err != nil {
			return nil, err
		}
		out[i] = opened
	}
	return out, nil
}

// Search matches any provided term as a case-insensitive substring. With no
// terms every identity matches. Results are ordered by canonical id.
func (s *InMemoryStore) Search(_ context.Context, q SearchQuery) (*Page, error) {
	terms := map[string]string{
		"name":    strings.ToLower(q.Name),
		"id":      strings.ToLower(q.CanonicalID),
		"address": strings.ToLower(q.Address),
		"email":   strings.ToLower(q.ContactEmail),
	}
	match := func(v *models.VendorIdentity) bool {
		if !q.HasTerms() {
			return true
		}
		fields := map[string]string{
			"name":    v.Name,
			"id":      v.CanonicalID,
			"address": v.Address,
			"email":   v.ContactEmail,
		}
		for key, term := range terms {
			if term != "" && strings.Contains(strings.ToLower(fields[key]), term) {
				return true
			}
		}
		return false
	}

	s.mu.RLock()
	var hits []*models.VendorIdentity
	for _, v := range s.byCanonical {
		if match(v) {
			hits = append(hits, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].CanonicalID < hits[j].CanonicalID })
	return s.page(hits, q.Page, q.PageSize)
}

// ChangedSince lists identities updated strictly after since, oldest change
// first.
func (s *InMemoryStore) ChangedSince(_ context.Context, since time.Time, page, pageSize int) (*Page, error) {
	s.mu.RLock()
	var hits []*models.VendorIdentity
	for _, v := range s.byCanonical {
		if v.UpdatedAt.After(since) {
			hits = append(hits, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].UpdatedAt.Equal(hits[j].UpdatedAt) {
			return hits[i].UpdatedAt.Before(hits[j].UpdatedAt)
		}
		return hits[i].CanonicalID < hits[j].CanonicalID
	})
	return s.page(hits, page, pageSize)
}

func (s *InMemoryStore) page(hits []*models.VendorIdentity, page, pageSize int) (*Page, error) {
	page, pageSize = ClampPage(page, pageSize)
	start := min(Offset(page, pageSize), len(hits))
	end := min(start+pageSize, len(hits))
	out := &Page{Total: len(hits), Items: []*models.VendorIdentity{}}
	for i := start; i < end; i++ {
		opened, err := s.openIdentity(hits[i])
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, opened)
	}
	return out, nil
}

// All returns every identity ordered by canonical id.
func (s *InMemoryStore) All(ctx context.Context) ([]*models.VendorIdentity, error) {
	s.mu.RLock()
	n := len(s.byCanonical)
	s.mu.RUnlock()
	var out []*models.VendorIdentity
	for page := 1; len(out) < n; page++ {
		p, err := s.Search(ctx, SearchQuery{Page: page, PageSize: MaxPageSize})
		if err != nil {
			return nil, err
		}
		if len(p.Items) == 0 {
			break
		}
		out = append(out, p.Items...)
	}
	return out, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &Stats{TotalVendors: len(s.byCanonical)}
	for _, v := range s.byCanonical {
		if st.LastUpdated == nil || v.UpdatedAt.After(*st.LastUpdated) {
			t := v.UpdatedAt
			st.LastUpdated = &t
		}
	}
	return st, nil
}

func (s *InMemoryStore) SaveConflicts(_ context.Context, notes []models.ConflictNote) error {
	if len(notes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		s.conflicts = append(s.conflicts, n)
	}
	return nil
}

// ListConflicts returns the newest notes first, at most limit of them.
func (s *InMemoryStore) ListConflicts(_ context.Context, canonicalID string, limit int) ([]models.ConflictNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConflictNote
	for i := len(s.conflicts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if canonicalID != "" && s.conflicts[i].CanonicalID != canonicalID {
			continue
		}
		out = append(out, s.conflicts[i])
	}
	return out, nil
}

// SaveRun inserts or replaces the run record.
func (s *InMemoryStore) SaveRun(_ context.Context, run *models.IngestionJobRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	cp := *run
	cp.ErrorSamples = append([]string(nil), run.ErrorSamples...)
	s.mu.Lock()
	s.runs[run.ID] = &cp
	s.mu.Unlock()
	return nil
}

// ListRuns returns the newest runs first. An empty sourceID lists all sources.
func (s *InMemoryStore) ListRuns(_ context.Context, sourceID string, limit int) ([]*models.IngestionJobRun, error) {
	s.mu.RLock()
	var out []*models.IngestionJobRun
	for _, r := range s.runs {
		if sourceID != "" && r.SourceID != sourceID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvent writes a standalone outbox row.
func (s *InMemoryStore) AppendEvent(_ context.Context, ev *models.ChangeEvent) error {
	s.mu.Lock()
	s.outbox = append(s.outbox, ev)
	s.mu.Unlock()
	return nil
}

// FetchUnpublished returns up to limit pending outbox rows, oldest first.
func (s *InMemoryStore) FetchUnpublished(_ context.Context, limit int) ([]*models.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ChangeEvent
	for _, ev := range s.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.outbox {
		if ev.ID == id {
			t := at
			ev.PublishedAt = &t
			return nil
		}
	}
	return sentinel.ErrNotFound
}
