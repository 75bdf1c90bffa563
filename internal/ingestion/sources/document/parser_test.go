package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/sources"
)

func collect(p *Parser, payload string, cfg *models.SourceConfig) ([]models.IntermediateRecord, []error) {
	var recs []models.IntermediateRecord
	var errs []error
	for rec, err := range p.Parse(context.Background(), strings.NewReader(payload), cfg) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errs
}

func TestParseArray(t *testing.T) {
	cfg := &models.SourceConfig{ID: "opencorp"}

	t.Run("objects flattened and numbers kept exact", func(t *testing.T) {
		payload := ` [
			{"bn": 123456789, "name": "Acme Corp", "address": {"city": "Toronto", "province": "ON"}, "active": true, "tags": ["a", "b"], "fax": null},
			{"bn": "987654321", "name": "Globex"}
		]`
		recs, errs := collect(New(), payload, cfg)
		require.Empty(t, errs)
		require.Len(t, recs, 2)
		assert.Equal(t, "123456789", recs[0].Fields["bn"])
		assert.Equal(t, "Toronto", recs[0].Fields["address_city"])
		assert.Equal(t, "true", recs[0].Fields["active"])
		assert.Equal(t, "a, b", recs[0].Fields["tags"])
		assert.NotContains(t, recs[0].Fields, "fax")
		assert.Equal(t, 1, recs[1].Index)
	})

	t.Run("non-object element is malformed", func(t *testing.T) {
		recs, errs := collect(New(), `[{"bn":"1"}, 42, {"bn":"2"}]`, cfg)
		require.Len(t, recs, 2)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorMalformedSource, sources.GetCategory(errs[0]))
		assert.Equal(t, 2, recs[1].Index)
	})

	t.Run("broken array is unsupported", func(t *testing.T) {
		recs, errs := collect(New(), `[{"bn":"1"}, {"bn": }]`, cfg)
		require.Len(t, recs, 1)
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
	})
}

func TestParseLines(t *testing.T) {
	cfg := &models.SourceConfig{ID: "ndjson"}

	payload := "{\"bn\":\"1\",\"name\":\"A\"}\n\n{not json}\n{\"bn\":\"3\",\"name\":\"C\"}\n"
	recs, errs := collect(New(), payload, cfg)
	require.Len(t, recs, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, sources.ErrorMalformedSource, sources.GetCategory(errs[0]))
	assert.Equal(t, "C", recs[1].Fields["name"])
}

func TestParseRejectsOtherPayloads(t *testing.T) {
	cfg := &models.SourceConfig{ID: "x"}

	_, errs := collect(New(), "   ", cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))

	_, errs = collect(New(), "id,name\n1,A", cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
}

func TestParseWithSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "vendor.schema.json")
	schema := `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["bn", "name"],
		"properties": {"bn": {"type": "string", "pattern": "^[0-9]{9}$"}}
	}`
	require.NoError(t, os.WriteFile(schemaPath, []byte(schema), 0o600))

	cfg := &models.SourceConfig{ID: "validated", SchemaPath: schemaPath}
	p := New()
	recs, errs := collect(p, `[{"bn":"123456789","name":"A"},{"bn":"12","name":"B"},{"name":"C"}]`, cfg)
	require.Len(t, recs, 1)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Equal(t, sources.ErrorMalformedSource, sources.GetCategory(err))
	}

	t.Run("missing schema file is unsupported", func(t *testing.T) {
		_, errs := collect(New(), `[]`, &models.SourceConfig{ID: "bad", SchemaPath: filepath.Join(dir, "missing.json")})
		require.Len(t, errs, 1)
		assert.Equal(t, sources.ErrorUnsupportedFormat, sources.GetCategory(errs[0]))
	})
}
