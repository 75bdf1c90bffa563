package sources

import (
	"errors"
	"fmt"
)

// ErrorCategory is the failure taxonomy for fetching and parsing.
type ErrorCategory string

const (
	// ErrorSourceUnavailable covers network failures, timeouts, 5xx and 429.
	ErrorSourceUnavailable ErrorCategory = "source_unavailable"

	// ErrorMalformedSource marks a single unparseable record.
	ErrorMalformedSource ErrorCategory = "malformed_source"

	// ErrorUnsupportedFormat means the payload as a whole cannot be read.
	ErrorUnsupportedFormat ErrorCategory = "unsupported_format"

	ErrorInternal ErrorCategory = "internal"
)

// SourceError wraps adapter failures with a category.
type SourceError struct {
	Category   ErrorCategory
	SourceID   string
	Message    string
	Underlying error
	Retryable  bool
	// Index is the record position for ErrorMalformedSource, otherwise -1.
	Index int
	// Line is the 1-based payload line of a malformed record when known.
	Line int
}

func (e *SourceError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.SourceID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.SourceID, e.Category, e.Message)
}

func (e *SourceError) Unwrap() error {
	return e.Underlying
}

// NewSourceError creates a categorized error. Only ErrorSourceUnavailable is retryable.
func NewSourceError(category ErrorCategory, sourceID, message string, underlying error) *SourceError {
	return &SourceError{
		Category:   category,
		SourceID:   sourceID,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorSourceUnavailable,
		Index:      -1,
	}
}

// Unavailable is shorthand for a retryable fetch failure.
func Unavailable(sourceID, message string, underlying error) *SourceError {
	return NewSourceError(ErrorSourceUnavailable, sourceID, message, underlying)
}

// Malformed reports one bad record; the sequence continues after it.
func Malformed(sourceID string, index int, message string, underlying error) *SourceError {
	e := NewSourceError(ErrorMalformedSource, sourceID, message, underlying)
	e.Index = index
	return e
}

// Unsupported reports a payload that cannot be parsed at all.
func Unsupported(sourceID, message string, underlying error) *SourceError {
	return NewSourceError(ErrorUnsupportedFormat, sourceID, message, underlying)
}

func IsRetryable(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

func GetCategory(err error) ErrorCategory {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Category
	}
	return ErrorInternal
}

var (
	ErrAdapterNotFound  = errors.New("no adapter registered for format")
	ErrFetcherNotFound  = errors.New("no fetcher registered for scheme")
	ErrAdapterDuplicate = errors.New("adapter already registered")
)
