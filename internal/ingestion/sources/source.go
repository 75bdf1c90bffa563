// Package sources reads registry payloads. A Fetcher retrieves the raw bytes
// for a source URL scheme and a Parser turns them into a lazy, single-pass
// sequence of IntermediateRecords for one wire format. The Registry combines
// both behind the Adapter contract the pipeline consumes.
package sources

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
	"sync"

	"vendorgrid/internal/ingestion/models"
)

// Parser turns a payload into records. Malformed records are yielded as
// errors and iteration continues; an UnsupportedFormat error ends the sequence.
type Parser interface {
	Format() models.Format
	Parse(ctx context.Context, r io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error]
}

// Fetcher opens the raw payload for a source. Callers close the reader.
type Fetcher interface {
	Schemes() []string
	Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error)
}

// Adapter is what the pipeline needs from the source layer.
type Adapter interface {
	Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error)
	Parse(ctx context.Context, r io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error]
}

// Registry maintains parsers by format and fetchers by URL scheme.
type Registry struct {
	mu       sync.RWMutex
	parsers  map[models.Format]Parser
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{
		parsers:  make(map[models.Format]Parser),
		fetchers: make(map[string]Fetcher),
	}
}

// RegisterParser adds a parser. One parser per format.
func (r *Registry) RegisterParser(p Parser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parsers[p.Format()]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterDuplicate, p.Format())
	}
	r.parsers[p.Format()] = p
	return nil
}

// RegisterFetcher adds a fetcher for each of its schemes, replacing any previous one.
func (r *Registry) RegisterFetcher(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range f.Schemes() {
		r.fetchers[strings.ToLower(s)] = f
	}
}

func (r *Registry) Parser(format models.Format) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[format]
	return p, ok
}

// Formats lists registered formats.
func (r *Registry) Formats() []models.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Format, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}

// Fetch dispatches on the URL scheme. A URL without a scheme is a local file.
func (r *Registry) Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error) {
	scheme := SchemeOf(cfg.URL)
	r.mu.RLock()
	f, ok := r.fetchers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, Unsupported(cfg.ID, fmt.Sprintf("no fetcher for scheme %q", scheme), ErrFetcherNotFound)
	}
	return f.Fetch(ctx, cfg)
}

// Parse dispatches on cfg.Format. An unknown format yields a single
// UnsupportedFormat error.
func (r *Registry) Parse(ctx context.Context, rd io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error] {
	p, ok := r.Parser(cfg.Format)
	if !ok {
		return func(yield func(models.IntermediateRecord, error) bool) {
			yield(models.IntermediateRecord{}, Unsupported(cfg.ID, fmt.Sprintf("format %q", cfg.Format), ErrAdapterNotFound))
		}
	}
	return p.Parse(ctx, rd, cfg)
}

// SchemeOf returns the lower-cased URL scheme, or "file" for plain paths.
func SchemeOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// len 1 covers Windows drive letters.
		return "file"
	}
	return strings.ToLower(u.Scheme)
}
