package tagged

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/sources"
)

func collect(payload string, cfg *models.SourceConfig) ([]models.IntermediateRecord, []error) {
	var recs []models.IntermediateRecord
	var errs []error
	for rec, err := range New().Parse(context.Background(), strings.NewReader(payload), cfg) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errs
}

func TestParse(t *testing.T) {
	cfg := &models.SourceConfig{ID: "registry-qc", RecordElement: "entreprise"}

	t.Run("flattens nested elements and attributes", func(t *testing.T) {
		payload := `<?xml version="1.0" encoding="UTF-8"?>
<registre xmlns="urn:registre">
  <entreprise neq="1170000001">
    <nom>Acme Québec Inc.</nom>
    <adresse><ville>Montréal</ville><code_postal>H2X 1Y4</code_postal></adresse>
  </entreprise>
  <entreprise neq="1170000002">
    <nom>Globex</nom>
  </entreprise>
</registre>`
		recs, errs := collect(payload, cfg)
		require.Empty(t, errs)
		require.Len(t, recs, 2)
		assert.Equal(t, "1170000001", recs[0].Fields["neq"])
		assert.Equal(t, "Acme Québec Inc.", recs[0].Fields["nom"])
		assert.Equal(t, "Montréal", recs[0].Fields["adresse_ville"])
		assert.Equal(t, "H2X 1Y4", recs[0].Fields["adresse_code_postal"])
		assert.NotContains(t, recs[0].Fields, "xmlns")
		assert.Equal(t, 1, recs[1].Index)
	})

	t.Run("decodes single-byte charsets", func(t *testing.T) {
		tests := []struct {
			charset  string
			name     string
			city     string
			wantName string
			wantCity string
		}{
			{"ISO-8859-1", "Caf\xe9 Qu\xe9bec", "Montr\xe9al", "Café Québec", "Montréal"},
			{"windows-1252", "Caf\xe9 \x93Qu\xe9bec\x94", "Montr\xe9al", "Café \u201cQuébec\u201d", "Montréal"},
		}
		for _, tt := range tests {
			t.Run(tt.charset, func(t *testing.T) {
				payload := `<?xml version="1.0" encoding="` + tt.charset + `"?>` +
					`<registre><entreprise neq="1170000001"><nom>` + tt.name + `</nom>` +
					`<ville>` + tt.city + `</ville></entreprise></registre>`
				recs, errs := collect(payload, cfg)
				require.Empty(t, errs)
				require.Len(t, recs, 1)
				assert.Equal(t, tt.wantCity, recs[0].Fields["ville"])
				assert.Equal(t, tt.wantName, recs[0].Fields["nom"])
			})
		}
	})

	t.Run("unknown charset is unsupported", func(t *testing.T) {
		payload := `<?xml version="1.0" encoding="EBCDIC"?><registre><entreprise neq="1"/></registre>`
		_, errs := collect(payload, cfg)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
	})

	t.Run("conflicting repeated element is malformed", func(t *testing.T) {
		payload := `<r><entreprise><nom>A</nom><nom>B</nom></entreprise><entreprise><nom>C</nom></entreprise></r>`
		recs, errs := collect(payload, cfg)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorMalformedSource, sources.GetCategory(errs[0]))
		require.Len(t, recs, 1)
		assert.Equal(t, "C", recs[0].Fields["nom"])
		assert.Equal(t, 1, recs[0].Index)
	})

	t.Run("empty record is malformed", func(t *testing.T) {
		recs, errs := collect(`<r><entreprise></entreprise></r>`, cfg)
		assert.Empty(t, recs)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorMalformedSource, sources.GetCategory(errs[0]))
	})

	t.Run("truncated document is unsupported", func(t *testing.T) {
		recs, errs := collect(`<r><entreprise><nom>A</nom></entreprise><entreprise><nom>B`, cfg)
		require.Len(t, recs, 1)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
	})

	t.Run("empty document is unsupported", func(t *testing.T) {
		_, errs := collect("", cfg)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
	})

	t.Run("default record element", func(t *testing.T) {
		recs, errs := collect(`<export><record><id>1</id></record></export>`, &models.SourceConfig{ID: "x"})
		require.Empty(t, errs)
		require.Len(t, recs, 1)
		assert.Equal(t, "1", recs[0].Fields["id"])
	})
}
