package models

import "time"

// Format tags the wire format a source publishes.
type Format string

const (
	FormatDelimitedText      Format = "delimited_text"
	FormatTaggedHierarchical Format = "tagged_hierarchical"
	FormatStructuredDocument Format = "structured_document"
)

func (f Format) IsValid() bool {
	switch f {
	case FormatDelimitedText, FormatTaggedHierarchical, FormatStructuredDocument:
		return true
	}
	return false
}

// RateLimit is the per-source token bucket configuration.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// RetryPolicy bounds retries of SourceUnavailable failures.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given retry attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// SourceHealth is the only mutable part of a SourceConfig.
type SourceHealth struct {
	LastRunAt           time.Time
	LastStatus          RunStatus
	LastError           string
	ConsecutiveFailures int
	CircuitOpen         bool
}

// SourceConfig describes one external registry.
type SourceConfig struct {
	ID           string
	Name         string
	Format       Format
	URL          string
	Headers      map[string]string
	PollInterval time.Duration
	// Priority breaks ties between sources; higher wins.
	Priority     int
	RateLimit    RateLimit
	Retry        RetryPolicy
	FetchTimeout time.Duration
	BatchSize    int

	// FieldMap maps source column or element names to canonical fields.
	FieldMap map[string]Field
	// IdentifierFields lists source fields holding the canonical id, best first.
	IdentifierFields []string
	// Placeholders adds sentinel tokens on top of the defaults.
	Placeholders []string

	Delimiter     rune
	RecordElement string
	SchemaPath    string

	Health SourceHealth
}

const (
	DefaultBatchSize    = 100
	DefaultFetchTimeout = 30 * time.Second
)

// EffectiveBatchSize returns BatchSize or the default.
func (c *SourceConfig) EffectiveBatchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

// EffectiveFetchTimeout returns FetchTimeout or the default.
func (c *SourceConfig) EffectiveFetchTimeout() time.Duration {
	if c.FetchTimeout > 0 {
		return c.FetchTimeout
	}
	return DefaultFetchTimeout
}
