package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/crypto"
)

// WebhookSender posts alerts as JSON to an arbitrary HTTP endpoint.
type WebhookSender struct {
	url     string
	headers map[string]string
	client  *http.Client
	signer  *crypto.Signer
}

// NewWebhookSender creates a WebhookSender. headers are set on every request,
// which is how bearer tokens or shared secrets are passed.
func NewWebhookSender(url string, headers map[string]string) *WebhookSender {
	return &WebhookSender{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithSigner makes w sign every body with s. It returns w.
func (w *WebhookSender) WithSigner(s *crypto.Signer) *WebhookSender {
	w.signer = s
	return w
}

type webhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Send posts {"title","message","sent_at"} to the configured URL.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(webhookPayload{Title: title, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	if w.signer != nil {
		for k, v := range w.signer.Headers(body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
