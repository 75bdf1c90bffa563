//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/store"
	"vendorgrid/pkg/requestcontext"
	"vendorgrid/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(store.Migrate(context.Background(), s.postgres.DB))
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	err := s.postgres.TruncateTables(context.Background(),
		"vendor_outbox", "ingestion_runs", "conflict_notes", "vendor_audit", "vendor_provenance", "vendors")
	s.Require().NoError(err)
}

func newCreate(canonicalID, name string, at time.Time) *models.Intent {
	in := &models.Intent{
		Kind:     models.IntentCreate,
		Source:   "registry-ca",
		Method:   models.MethodIngestion,
		Identity: models.VendorIdentity{ID: uuid.New(), CanonicalID: canonicalID, Name: name, IsActive: true},
		Changes: []models.FieldChange{
			{Field: models.FieldCanonicalID, New: canonicalID},
			{Field: models.FieldName, New: name},
		},
	}
	attach(in, at)
	return in
}

func attach(in *models.Intent, at time.Time) {
	for _, c := range in.Changes {
		in.Provenance = append(in.Provenance, models.ProvenanceRecord{
			ID: uuid.New(), Field: c.Field, Source: in.Source, Method: in.Method,
			Value: c.New, PreviousValue: c.Old, RecordedAt: at,
		})
		in.Audit = append(in.Audit, models.AuditEvent{
			ID: uuid.New(), ActorID: requestcontext.SystemActor, Action: models.ActionVendorCreated,
			Field: c.Field, OldValue: c.Old, NewValue: c.New, Timestamp: at,
		})
	}
}

func (s *PostgresStoreSuite) TestCommitAndRead() {
	v, err := s.store.Commit(s.ctx, newCreate("123456789", "Acme Corp", s.now))
	s.Require().NoError(err)

	got, err := s.store.FindByCanonicalID(s.ctx, "123456789")
	s.Require().NoError(err)
	s.Equal(v.ID, got.ID)
	s.Equal(int64(1), got.Version)

	history, err := s.store.ListProvenance(s.ctx, v.ID, "")
	s.Require().NoError(err)
	s.Len(history, 2)

	events, err := s.store.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EventVendorCreated, events[0].EventType)
}

func (s *PostgresStoreSuite) TestAuditKeepsCommitOrder() {
	in := newCreate("123456789", "Acme Corp", s.now)
	for f, v := range map[models.Field]string{
		models.FieldCity:         "Toronto",
		models.FieldRegion:       "ON",
		models.FieldPostalCode:   "M5V 2T6",
		models.FieldWebsite:      "https://acme.example",
		models.FieldContactPhone: "+1 416 555 0100",
	} {
		in.Identity.Set(f, v)
		in.Changes = append(in.Changes, models.FieldChange{Field: f, New: v})
	}
	in.Provenance, in.Audit = nil, nil
	attach(in, s.now)
	v, err := s.store.Commit(s.ctx, in)
	s.Require().NoError(err)

	for range 5 {
		trail, err := s.store.ListAudit(s.ctx, v.ID, time.Time{}, time.Time{})
		s.Require().NoError(err)
		s.Require().Len(trail, len(in.Audit))
		for i, ev := range trail {
			s.Equal(in.Audit[i].Field, ev.Field)
		}
	}
}

// TestConcurrentCreates verifies that racing creates for one canonical id
// produce exactly one identity and conflicts for every loser.
func (s *PostgresStoreSuite) TestConcurrentCreates() {
	const goroutines = 20
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.store.Commit(s.ctx, newCreate("123456789", fmt.Sprintf("Acme %d", idx), s.now))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrIdentityConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	st, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, st.TotalVendors)
}

func (s *PostgresStoreSuite) TestStaleUpdate() {
	v, err := s.store.Commit(s.ctx, newCreate("123456789", "Acme Corp", s.now))
	s.Require().NoError(err)

	update := func(name string) *models.Intent {
		in := &models.Intent{
			Kind:        models.IntentUpdate,
			Source:      "registry-ca",
			Method:      models.MethodIngestion,
			Identity:    *v.Clone(),
			BaseVersion: v.Version,
			Changes:     []models.FieldChange{{Field: models.FieldName, Old: v.Name, New: name}},
		}
		in.Identity.Name = name
		attach(in, s.now)
		return in
	}

	_, err = s.store.Commit(s.ctx, update("Acme Two"))
	s.Require().NoError(err)
	_, err = s.store.Commit(s.ctx, update("Acme Three"))
	s.ErrorIs(err, models.ErrStaleIdentity)

	got, err := s.store.FindByCanonicalID(s.ctx, "123456789")
	s.Require().NoError(err)
	s.Equal("Acme Two", got.Name)
	s.Equal(int64(2), got.Version)
}

func (s *PostgresStoreSuite) TestSearchAndChangedSince() {
	_, err := s.store.Commit(s.ctx, newCreate("111111111", "Acme Corp", s.now))
	s.Require().NoError(err)
	_, err = s.store.Commit(s.ctx, newCreate("222222222", "Globex", s.now))
	s.Require().NoError(err)

	page, err := s.store.Search(s.ctx, store.SearchQuery{Name: "ACME", Page: 1, PageSize: 10})
	s.Require().NoError(err)
	s.Equal(1, page.Total)
	s.Equal("111111111", page.Items[0].CanonicalID)

	changed, err := s.store.ChangedSince(s.ctx, s.now.Add(-time.Second), 1, 10)
	s.Require().NoError(err)
	s.Equal(2, changed.Total)
}

func (s *PostgresStoreSuite) TestRunsConflictsOutbox() {
	run := models.NewRun("registry-ca", requestcontext.SystemActor, models.TriggerScheduled, s.now)
	run.AddError("row 2: malformed")
	s.Require().NoError(s.store.SaveRun(s.ctx, run))
	run.Finish(models.RunSucceeded, s.now.Add(time.Second))
	s.Require().NoError(s.store.SaveRun(s.ctx, run))

	runs, err := s.store.ListRuns(s.ctx, "", 10)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal(models.RunSucceeded, runs[0].Status)
	s.Equal([]string{"row 2: malformed"}, runs[0].ErrorSamples)

	s.Require().NoError(s.store.SaveConflicts(s.ctx, []models.ConflictNote{{
		RunID: run.ID, CanonicalID: "123456789", Field: models.FieldName,
		KeptSource: "federal", KeptValue: "A", RejectedSource: "municipal", RejectedValue: "B", NotedAt: s.now,
	}}))
	notes, err := s.store.ListConflicts(s.ctx, "123456789", 10)
	s.Require().NoError(err)
	s.Require().Len(notes, 1)
	s.Equal(run.ID, notes[0].RunID)

	ev, err := models.NewImportEvent(run, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendEvent(s.ctx, ev))
	pending, err := s.store.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Require().NoError(s.store.MarkPublished(s.ctx, pending[0].ID, s.now))
	pending, err = s.store.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}
