package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/normalize"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/provenance"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/sources"
	"vendorgrid/internal/ingestion/sources/delimited"
	"vendorgrid/internal/ingestion/store"
	dErrors "vendorgrid/pkg/domain-errors"
	"vendorgrid/pkg/requestcontext"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const sampleCSV = `name,tax_id,address,contact_email,bank_account
Acme Industrial Supply,123-456-789,1 Main St,Ops@Acme.test,0012 3456 7890
No Identifier Ltd,,9 Side Rd,,
Beta Logistics,987654321RT0001,44 King St W,billing@beta.test,
`

// staleStore fails the first n commits with a version conflict.
type staleStore struct {
	*store.InMemoryStore
	failures int
}

func (s *staleStore) Commit(ctx context.Context, in *models.Intent) (*models.VendorIdentity, error) {
	if s.failures > 0 {
		s.failures--
		return nil, models.ErrStaleIdentity
	}
	return s.InMemoryStore.Commit(ctx, in)
}

// downStore fails every statistics read.
type downStore struct {
	*store.InMemoryStore
}

func (downStore) Stats(context.Context) (*store.Stats, error) {
	return nil, errors.New("connection refused")
}

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.store = store.NewInMemoryStore()
	s.service = s.newService(s.store)
}

func (s *ServiceSuite) newService(st Store) *Service {
	registry := sources.NewRegistry()
	s.Require().NoError(registry.RegisterParser(delimited.New()))

	gateway, ok := st.(pipeline.Gateway)
	s.Require().True(ok)
	resolver, err := resolve.New(gateway)
	s.Require().NoError(err)
	clock := func() time.Time { return testNow }
	p, err := pipeline.New(registry, normalize.New(), resolver, provenance.New(provenance.WithClock(clock)), gateway)
	s.Require().NoError(err)

	svc, err := New(st, p, WithClock(clock))
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) importSample() *ImportReport {
	report, err := s.service.ImportCSV(s.ctx, "alice@example.com", strings.NewReader(sampleCSV))
	s.Require().NoError(err)
	return report
}

// =============================================================================
// ImportCSV
// =============================================================================

func (s *ServiceSuite) TestImportReportsRowErrors() {
	report := s.importSample()

	s.Equal(3, report.TotalRows)
	s.Equal(2, report.SuccessCount)
	s.Equal(2, report.Created)
	s.Equal(1, report.ErrorCount)
	s.Require().Len(report.Errors, 1)
	s.Equal(3, report.Errors[0].Row)
	s.Equal("identifier", report.Errors[0].Field)
}

func (s *ServiceSuite) TestImportRecordsManualMethodAndRun() {
	report := s.importSample()

	v, err := s.service.GetVendorIdentity(s.ctx, "123456789")
	s.Require().NoError(err)
	records, err := s.service.GetProvenance(s.ctx, v.ID, models.FieldName)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(models.MethodManualImport, records[0].Method)
	s.Equal(ImportSourceID, records[0].Source)

	trail, err := s.service.GetAuditTrail(s.ctx, v.ID, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Require().NotEmpty(trail)
	s.Equal("alice@example.com", trail[0].ActorID)

	runs, err := s.service.ListRuns(s.ctx, ImportSourceID, 0)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal(report.RunID, runs[0].ID)
	s.Equal(models.TriggerManual, runs[0].Trigger)
	s.Equal(models.RunSucceeded, runs[0].Status)

	events, err := s.store.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(models.EventVendorImported, events[2].EventType)
}

func (s *ServiceSuite) TestImportIsIdempotent() {
	s.importSample()
	report := s.importSample()
	s.Equal(2, report.Unchanged)
	s.Zero(report.Created)
	s.Zero(report.Updated)
}

func (s *ServiceSuite) TestImportMalformedRow() {
	report, err := s.service.ImportCSV(s.ctx, "alice@example.com", strings.NewReader(
		"name,tax_id\nAcme,123456789\nBroken,111111111,extra\n"))
	s.Require().NoError(err)
	s.Equal(2, report.TotalRows)
	s.Equal(1, report.SuccessCount)
	s.Require().Len(report.Errors, 1)
	s.Equal(3, report.Errors[0].Row)
	s.Equal("row", report.Errors[0].Field)
}

func (s *ServiceSuite) TestImportRowNumbersFollowFileLines() {
	report, err := s.service.ImportCSV(s.ctx, "alice@example.com", strings.NewReader(
		"name,tax_id\n\nAcme,123456789\n\"Multi\nLine\",\nBroken\nGlobex,987654321\n"))
	s.Require().NoError(err)
	s.Equal(2, report.SuccessCount)
	s.Require().Len(report.Errors, 2)
	s.Equal(4, report.Errors[0].Row)
	s.Equal("identifier", report.Errors[0].Field)
	s.Equal(6, report.Errors[1].Row)
	s.Equal("row", report.Errors[1].Field)
}

func (s *ServiceSuite) TestImportEmptyFile() {
	_, err := s.service.ImportCSV(s.ctx, "alice@example.com", strings.NewReader(""))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	runs, err := s.service.ListRuns(s.ctx, ImportSourceID, 0)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal(models.RunFailed, runs[0].Status)
}

// =============================================================================
// Lookups
// =============================================================================

func (s *ServiceSuite) TestGetVendorIdentity() {
	s.importSample()

	s.Run("canonicalizes the id", func() {
		v, err := s.service.GetVendorIdentity(s.ctx, "123 456 789")
		s.Require().NoError(err)
		s.Equal("Acme Industrial Supply", v.Name)
		s.Equal("ops@acme.test", v.ContactEmail)
	})

	s.Run("masks the bank account", func() {
		v, err := s.service.GetVendorIdentity(s.ctx, "123456789")
		s.Require().NoError(err)
		s.Equal("********7890", v.BankAccount)
	})

	s.Run("program account suffix resolves to the root", func() {
		v, err := s.service.GetVendorIdentity(s.ctx, "987654321RT0001")
		s.Require().NoError(err)
		s.Equal("987654321", v.CanonicalID)
	})

	s.Run("unknown id", func() {
		_, err := s.service.GetVendorIdentity(s.ctx, "555555555")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("invalid id", func() {
		_, err := s.service.GetVendorIdentity(s.ctx, "!!")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestGetProvenance() {
	s.importSample()
	v, err := s.service.GetVendorIdentity(s.ctx, "123456789")
	s.Require().NoError(err)

	s.Run("sensitive values are masked", func() {
		records, err := s.service.GetProvenance(s.ctx, v.ID, models.FieldBankAccount)
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal("********7890", records[0].Value)
	})

	s.Run("every field when none is given", func() {
		records, err := s.service.GetProvenance(s.ctx, v.ID, "")
		s.Require().NoError(err)
		s.Greater(len(records), 3)
	})

	s.Run("unknown field", func() {
		_, err := s.service.GetProvenance(s.ctx, v.ID, "shoe_size")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown vendor", func() {
		_, err := s.service.GetProvenance(s.ctx, uuid.New(), models.FieldName)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestGetAuditTrailWindow() {
	s.importSample()
	v, err := s.service.GetVendorIdentity(s.ctx, "123456789")
	s.Require().NoError(err)

	events, err := s.service.GetAuditTrail(s.ctx, v.ID, testNow.Add(-time.Minute), testNow.Add(time.Minute))
	s.Require().NoError(err)
	s.NotEmpty(events)

	events, err = s.service.GetAuditTrail(s.ctx, v.ID, testNow.Add(time.Hour), time.Time{})
	s.Require().NoError(err)
	s.Empty(events)

	_, err = s.service.GetAuditTrail(s.ctx, v.ID, testNow, testNow.Add(-time.Hour))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestSearch() {
	s.importSample()

	res, err := s.service.Search(s.ctx, store.SearchQuery{Name: "  acme "})
	s.Require().NoError(err)
	s.Equal(1, res.Total)
	s.Equal("123456789", res.Items[0].CanonicalID)

	res, err = s.service.Search(s.ctx, store.SearchQuery{Name: "acme", ContactEmail: "beta"})
	s.Require().NoError(err)
	s.Equal(2, res.Total)

	res, err = s.service.Search(s.ctx, store.SearchQuery{PageSize: 1000})
	s.Require().NoError(err)
	s.Equal(store.MaxPageSize, res.PageSize)
	s.Equal(1, res.Page)
	s.Equal(1, res.Pages())
}

func (s *ServiceSuite) TestChangesSince() {
	s.importSample()

	res, err := s.service.ChangesSince(s.ctx, testNow.Add(-time.Second), 1, 1)
	s.Require().NoError(err)
	s.Equal(2, res.Total)
	s.Len(res.Items, 1)
	s.Equal(2, res.Pages())

	res, err = s.service.ChangesSince(s.ctx, testNow, 1, 10)
	s.Require().NoError(err)
	s.Zero(res.Total)

	_, err = s.service.ChangesSince(s.ctx, time.Time{}, 1, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestExportCSV() {
	s.importSample()

	var buf bytes.Buffer
	n, err := s.service.ExportCSV(s.ctx, &buf)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal("name,tax_id,address,contact_email\n"+
		"Acme Industrial Supply,123456789,1 Main St,ops@acme.test\n"+
		"Beta Logistics,987654321,44 King St W,billing@beta.test\n", buf.String())
}

// =============================================================================
// Deactivate
// =============================================================================

func (s *ServiceSuite) TestDeactivate() {
	s.importSample()

	v, err := s.service.Deactivate(s.ctx, "123456789", "bob@example.com")
	s.Require().NoError(err)
	s.False(v.IsActive)
	s.EqualValues(2, v.Version)

	trail, err := s.service.GetAuditTrail(s.ctx, v.ID, time.Time{}, time.Time{})
	s.Require().NoError(err)
	last := trail[len(trail)-1]
	s.Equal(models.ActionVendorDeactivated, last.Action)
	s.Equal("bob@example.com", last.ActorID)

	records, err := s.service.GetProvenance(s.ctx, v.ID, models.FieldIsActive)
	s.Require().NoError(err)
	s.Require().NotEmpty(records)
	s.Equal(models.MethodAdministrative, records[0].Method)
	s.Equal(AdministrativeSource, records[0].Source)

	again, err := s.service.Deactivate(s.ctx, "123456789", "bob@example.com")
	s.Require().NoError(err)
	s.EqualValues(2, again.Version)
}

func (s *ServiceSuite) TestDeactivateRetriesStaleCommits() {
	st := &staleStore{InMemoryStore: s.store}
	svc := s.newService(st)
	_, err := svc.ImportCSV(s.ctx, "alice@example.com", strings.NewReader("name,tax_id\nAcme,123456789\n"))
	s.Require().NoError(err)

	st.failures = 2
	v, err := svc.Deactivate(s.ctx, "123456789", "bob@example.com")
	s.Require().NoError(err)
	s.False(v.IsActive)
	s.Zero(st.failures)
}

func (s *ServiceSuite) TestDeactivateGivesUpAfterRepeatedConflicts() {
	st := &staleStore{InMemoryStore: s.store}
	svc := s.newService(st)
	_, err := svc.ImportCSV(s.ctx, "alice@example.com", strings.NewReader("name,tax_id\nAcme,123456789\n"))
	s.Require().NoError(err)

	st.failures = commitAttempts
	_, err = svc.Deactivate(s.ctx, "123456789", "bob@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestDeactivateUnknown() {
	_, err := s.service.Deactivate(s.ctx, "555555555", "bob@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Health, conflicts and runs
// =============================================================================

func (s *ServiceSuite) TestHealth() {
	report, err := s.service.Health(s.ctx)
	s.Require().NoError(err)
	s.Equal(StatusHealthy, report.Status)
	s.Zero(report.TotalVendors)
	s.Nil(report.LastUpdated)

	s.importSample()
	report, err = s.service.Health(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.TotalVendors)
	s.Require().NotNil(report.LastUpdated)
	s.True(report.LastUpdated.Equal(testNow))
}

func (s *ServiceSuite) TestHealthStoreDown() {
	svc, err := New(downStore{s.store}, &pipeline.Pipeline{})
	s.Require().NoError(err)
	report, err := svc.Health(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(StatusUnhealthy, report.Status)
}

func (s *ServiceSuite) TestListConflictsMasksSensitiveValues() {
	s.Require().NoError(s.store.SaveConflicts(s.ctx, []models.ConflictNote{{
		ID:             uuid.New(),
		CanonicalID:    "123456789",
		Field:          models.FieldBankAccount,
		KeptSource:     "federal",
		KeptValue:      "001234567890",
		RejectedSource: "provincial",
		RejectedValue:  "009999999999",
		NotedAt:        testNow,
	}}))

	notes, err := s.service.ListConflicts(s.ctx, "123-456-789", 0)
	s.Require().NoError(err)
	s.Require().Len(notes, 1)
	s.Equal("********7890", notes[0].KeptValue)
	s.Equal("********9999", notes[0].RejectedValue)

	_, err = s.service.ListConflicts(s.ctx, "??", 0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, &pipeline.Pipeline{})
	s.Error(err)
	_, err = New(s.store, nil)
	s.Error(err)
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"12":           "**",
		"1234":         "****",
		"001234567890": "********7890",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
