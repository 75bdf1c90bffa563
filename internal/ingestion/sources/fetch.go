package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"

	"vendorgrid/internal/ingestion/models"
)

// HTTPFetcher downloads payloads over http and https.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

type HTTPOption func(*HTTPFetcher)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{},
		userAgent: "vendorgrid-ingestion/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Schemes() []string { return []string{"http", "https"} }

// Fetch issues a GET bounded by the source fetch timeout. The timeout also
// covers reading the body, so it is released when the body is closed.
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.EffectiveFetchTimeout())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, Unsupported(cfg.ID, "invalid source url", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, Unavailable(cfg.ID, "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, statusError(cfg.ID, resp.StatusCode)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func statusError(sourceID string, status int) *SourceError {
	msg := fmt.Sprintf("unexpected status %d", status)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return Unavailable(sourceID, msg, nil)
	}
	// 4xx will not fix itself on retry.
	e := Unavailable(sourceID, msg, nil)
	e.Retryable = false
	return e
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// FileFetcher opens local files, addressed as file:// URLs or plain paths.
type FileFetcher struct{}

func NewFileFetcher() *FileFetcher { return &FileFetcher{} }

func (f *FileFetcher) Schemes() []string { return []string{"file"} }

func (f *FileFetcher) Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(cfg.ID, "fetch cancelled", err)
	}
	path := cfg.URL
	if u, err := url.Parse(cfg.URL); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	fh, err := os.Open(path)
	if err != nil {
		e := Unavailable(cfg.ID, "open "+path, err)
		if errors.Is(err, fs.ErrPermission) {
			e.Retryable = false
		}
		return nil, e
	}
	return fh, nil
}
