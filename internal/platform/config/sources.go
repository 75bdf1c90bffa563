package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"vendorgrid/internal/ingestion/models"
)

// Duration reads YAML strings such as "90s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

type sourceCatalog struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Format       string            `yaml:"format"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	PollInterval Duration          `yaml:"poll_interval"`
	Priority     int               `yaml:"priority"`
	RateLimit    struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Retry struct {
		BaseDelay   Duration `yaml:"base_delay"`
		MaxDelay    Duration `yaml:"max_delay"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"retry"`
	FetchTimeout     Duration          `yaml:"fetch_timeout"`
	BatchSize        int               `yaml:"batch_size"`
	FieldMap         map[string]string `yaml:"field_map"`
	IdentifierFields []string          `yaml:"identifier_fields"`
	Placeholders     []string          `yaml:"placeholders"`
	Delimiter        string            `yaml:"delimiter"`
	RecordElement    string            `yaml:"record_element"`
	SchemaPath       string            `yaml:"schema_path"`
}

// Retry defaults applied when a source omits them.
const (
	DefaultRetryBaseDelay   = 5 * time.Second
	DefaultRetryMaxDelay    = 5 * time.Minute
	DefaultRetryMaxAttempts = 3
)

// LoadSources reads and validates the YAML source catalog at path.
func LoadSources(path string) ([]*models.SourceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source catalog: %w", err)
	}
	defer f.Close()

	var catalog sourceCatalog
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parse source catalog %s: %w", path, err)
	}

	var (
		out  = make([]*models.SourceConfig, 0, len(catalog.Sources))
		seen = make(map[string]struct{}, len(catalog.Sources))
		errs []error
	)
	for i, entry := range catalog.Sources {
		cfg, err := entry.toModel()
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d (%s): %w", i, entry.ID, err))
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			errs = append(errs, fmt.Errorf("source %d: duplicate id %q", i, cfg.ID))
			continue
		}
		seen[cfg.ID] = struct{}{}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (e sourceEntry) toModel() (*models.SourceConfig, error) {
	switch {
	case e.ID == "":
		return nil, errors.New("id is required")
	case e.URL == "":
		return nil, errors.New("url is required")
	case e.PollInterval <= 0:
		return nil, errors.New("poll_interval must be positive")
	case e.RateLimit.RequestsPerSecond < 0 || e.RateLimit.Burst < 0:
		return nil, errors.New("rate_limit must not be negative")
	}
	format := models.Format(e.Format)
	if !format.IsValid() {
		return nil, fmt.Errorf("unknown format %q", e.Format)
	}

	cfg := &models.SourceConfig{
		ID:           e.ID,
		Name:         e.Name,
		Format:       format,
		URL:          e.URL,
		Headers:      e.Headers,
		PollInterval: time.Duration(e.PollInterval),
		Priority:     e.Priority,
		RateLimit: models.RateLimit{
			RequestsPerSecond: e.RateLimit.RequestsPerSecond,
			Burst:             e.RateLimit.Burst,
		},
		Retry: models.RetryPolicy{
			BaseDelay:   time.Duration(e.Retry.BaseDelay),
			MaxDelay:    time.Duration(e.Retry.MaxDelay),
			MaxAttempts: e.Retry.MaxAttempts,
		},
		FetchTimeout:     time.Duration(e.FetchTimeout),
		BatchSize:        e.BatchSize,
		IdentifierFields: e.IdentifierFields,
		Placeholders:     e.Placeholders,
		RecordElement:    e.RecordElement,
		SchemaPath:       e.SchemaPath,
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}

	if e.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(e.Delimiter)
		if size != len(e.Delimiter) {
			return nil, fmt.Errorf("delimiter %q must be a single character", e.Delimiter)
		}
		cfg.Delimiter = r
	}

	if len(e.FieldMap) > 0 {
		cfg.FieldMap = make(map[string]models.Field, len(e.FieldMap))
		for k, v := range e.FieldMap {
			f := models.Field(v)
			if !f.IsKnown() || f == models.FieldCanonicalID {
				return nil, fmt.Errorf("field_map %q: %q is not a mappable field", k, v)
			}
			cfg.FieldMap[k] = f
		}
	}
	return cfg, nil
}
