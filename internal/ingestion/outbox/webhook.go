package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"vendorgrid/internal/ingestion/models"
)

const (
	HeaderEvent     = "X-Vendorgrid-Event"
	HeaderEventID   = "X-Vendorgrid-Event-Id"
	HeaderSignature = "X-Vendorgrid-Signature"
)

// WebhookPublisher POSTs the event payload to a single URL. Any non-2xx
// response is a delivery failure.
type WebhookPublisher struct {
	url    string
	client *http.Client
	secret []byte
}

type WebhookOption func(*WebhookPublisher)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookPublisher) {
		w.client = c
	}
}

// WithSigningSecret signs each body with HMAC-SHA256 in HeaderSignature.
func WithSigningSecret(secret string) WebhookOption {
	return func(w *WebhookPublisher) {
		w.secret = []byte(secret)
	}
}

func NewWebhookPublisher(url string, opts ...WebhookOption) *WebhookPublisher {
	w := &WebhookPublisher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookPublisher) Name() string { return "webhook" }

func (w *WebhookPublisher) Publish(ctx context.Context, ev *models.ChangeEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(ev.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.EventType))
	req.Header.Set(HeaderEventID, ev.ID.String())
	if len(w.secret) > 0 {
		req.Header.Set(HeaderSignature, "sha256="+Sign(w.secret, ev.Payload))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
