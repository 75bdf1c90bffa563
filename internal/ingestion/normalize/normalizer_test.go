package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vendorgrid/internal/ingestion/models"
)

type NormalizerSuite struct {
	suite.Suite
	normalizer *Normalizer
	cfg        *models.SourceConfig
}

func TestNormalizerSuite(t *testing.T) {
	suite.Run(t, new(NormalizerSuite))
}

func (s *NormalizerSuite) SetupTest() {
	s.normalizer = New()
	s.cfg = &models.SourceConfig{
		ID:               "registry-ca",
		Priority:         10,
		IdentifierFields: []string{"Business Number", "Licence Number"},
		FieldMap: map[string]models.Field{
			"Operating Name": models.FieldName,
			"Civic":          models.FieldStreetNumber,
		},
		Placeholders: []string{"Non fourni"},
	}
}

func (s *NormalizerSuite) record(fields map[string]string) models.IntermediateRecord {
	return models.IntermediateRecord{SourceID: s.cfg.ID, Index: 7, Fields: fields}
}

// =============================================================================
// Identifier extraction
// =============================================================================

func (s *NormalizerSuite) TestIdentifierPriority() {
	s.Run("first populated identifier wins", func() {
		out, rej := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123 456 789",
			"Licence Number":  "B-1234567",
		}), s.cfg)
		s.Require().Nil(rej)
		s.Equal("123456789", out.CanonicalID)
		s.Equal("business_number", out.IdentifierField)
	})

	s.Run("placeholder identifier falls through to next field", func() {
		out, rej := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "N/A",
			"Licence Number":  "b-1234567",
		}), s.cfg)
		s.Require().Nil(rej)
		s.Equal("B1234567", out.CanonicalID)
		s.Equal("licence_number", out.IdentifierField)
	})

	s.Run("program account suffix reduced to root", func() {
		out, rej := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789 RT 0001",
		}), s.cfg)
		s.Require().Nil(rej)
		s.Equal("123456789", out.CanonicalID)
	})

	s.Run("no identifier is rejected", func() {
		_, rej := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "Not Available",
			"Licence Number":  "",
			"Name":            "Orphan Co",
		}), s.cfg)
		s.Require().NotNil(rej)
		s.Equal(models.ReasonNoIdentifier, rej.Reason)
		s.Equal(7, rej.Index)
		s.Equal("registry-ca", rej.SourceID)
	})
}

// =============================================================================
// Field mapping and placeholders
// =============================================================================

func (s *NormalizerSuite) TestFieldMapping() {
	s.Run("explicit mapping wins over default alias", func() {
		out, rej := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Operating Name":  "Acme  Corp",
			"Name":            "ACME HOLDINGS LTD",
		}), s.cfg)
		s.Require().Nil(rej)
		s.Equal("Acme Corp", out.Fields[models.FieldName])
		s.Equal(10, out.Priority)
		s.Equal(models.MethodIngestion, out.Method)
	})

	s.Run("placeholders and blanks are absent", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Name":            "Acme",
			"Email":           "n/a",
			"Phone":           "   ",
			"Website":         "Non fourni",
		}), s.cfg)
		s.NotContains(out.Fields, models.FieldContactEmail)
		s.NotContains(out.Fields, models.FieldContactPhone)
		s.NotContains(out.Fields, models.FieldWebsite)
		s.NotContains(out.Fields, models.FieldCanonicalID)
	})

	s.Run("email validated and lower-cased", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Contact Email":   "Billing@Acme.COM",
		}), s.cfg)
		s.Equal("billing@acme.com", out.Fields[models.FieldContactEmail])

		out, _ = s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Contact Email":   "not an email",
		}), s.cfg)
		s.NotContains(out.Fields, models.FieldContactEmail)
	})

	s.Run("status mapped to active flag", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Status":          "Dissolved",
		}), s.cfg)
		s.Equal("false", out.Fields[models.FieldIsActive])
	})
}

// =============================================================================
// Address composition
// =============================================================================

func (s *NormalizerSuite) TestAddressComposition() {
	s.Run("composed from parts when full address absent", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Civic":           "100",
			"Street Name":     "Main St",
			"City":            "Toronto",
			"Province":        "on",
			"Postal Code":     "m5v2t6",
		}), s.cfg)
		s.Equal("100 Main St, Toronto, ON M5V 2T6", out.Fields[models.FieldAddress])
		s.Equal("Toronto", out.Fields[models.FieldCity])
		s.Equal("ON", out.Fields[models.FieldRegion])
		s.Equal("M5V 2T6", out.Fields[models.FieldPostalCode])
	})

	s.Run("placeholder full address falls back to composition", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Address":         "NULL",
			"Street Number":   "5",
			"Street Name":     "King St",
			"Direction":       "W",
			"Unit":            "200",
			"City":            "Toronto",
		}), s.cfg)
		s.Equal("5 King St W Unit 200, Toronto", out.Fields[models.FieldAddress])
	})

	s.Run("full address kept as published", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{
			"Business Number": "123456789",
			"Address":         "1 Yonge St,  Toronto",
			"City":            "Toronto",
		}), s.cfg)
		s.Equal("1 Yonge St, Toronto", out.Fields[models.FieldAddress])
	})

	s.Run("no address parts leaves address absent", func() {
		out, _ := s.normalizer.Normalize(s.record(map[string]string{"Business Number": "123456789"}), s.cfg)
		s.NotContains(out.Fields, models.FieldAddress)
	})
}

// =============================================================================
// Profile cache
// =============================================================================

func (s *NormalizerSuite) TestProfileCache() {
	rec := s.record(map[string]string{"Business Number": "123456789", "Operating Name": "Acme"})

	s.Run("one entry per source across config copies", func() {
		for range 1000 {
			cfg := *s.cfg
			_, rej := s.normalizer.Normalize(rec, &cfg)
			s.Require().Nil(rej)
		}
		s.Equal(1, s.cachedProfiles())
	})

	s.Run("replaced config recompiles", func() {
		_, rej := s.normalizer.Normalize(rec, s.cfg)
		s.Require().Nil(rej)

		changed := *s.cfg
		changed.IdentifierFields = []string{"Licence Number"}
		_, rej = s.normalizer.Normalize(rec, &changed)
		s.Require().NotNil(rej)
		s.Equal(models.ReasonNoIdentifier, rej.Reason)
		s.Equal(1, s.cachedProfiles())
	})
}

func (s *NormalizerSuite) cachedProfiles() int {
	n := 0
	s.normalizer.profiles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestComposeAddress(t *testing.T) {
	tests := []struct {
		name  string
		parts AddressParts
		want  string
	}{
		{"street only", AddressParts{StreetNumber: "100", StreetName: "Main St"}, "100 Main St"},
		{"locality only", AddressParts{City: "Ottawa", Region: "ON"}, "Ottawa, ON"},
		{"postal without city", AddressParts{StreetName: "Main St", PostalCode: "K1A 0B1"}, "Main St, K1A 0B1"},
		{"suite prefix kept", AddressParts{StreetNumber: "1", StreetName: "Bay St", Unit: "Suite 4"}, "1 Bay St Suite 4"},
		{"empty", AddressParts{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposeAddress(tt.parts))
		})
	}
}

func TestCanonicalIdentifier(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"123456789", "123456789", true},
		{"123-456-789", "123456789", true},
		{"123456789RC0001", "123456789", true},
		{" qc.1170000001 ", "QC1170000001", true},
		{"12", "", false},
		{"", "", false},
		{"???", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := CanonicalIdentifier(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlaceholders(t *testing.T) {
	p := DefaultPlaceholders()
	assert.True(t, p.IsPlaceholder("n/a"))
	assert.True(t, p.IsPlaceholder("  Not   Available "))
	assert.False(t, p.IsPlaceholder(""))
	assert.True(t, p.IsAbsent(" "))
	assert.False(t, p.IsPlaceholder("Acme"))

	extended := p.With("TBD", "tbd")
	assert.True(t, extended.IsPlaceholder("Tbd"))
	assert.False(t, p.IsPlaceholder("TBD"), "base registry unchanged")
	require.Equal(t, p.Len()+1, extended.Len())
}

func TestFormatPostalCode(t *testing.T) {
	assert.Equal(t, "M5V 2T6", FormatPostalCode("m5v 2t6"))
	assert.Equal(t, "90210", FormatPostalCode("90210"))
}
