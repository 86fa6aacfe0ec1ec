package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkwok94/stratcore/internal/crypto"
)

// WebhookSender posts alerts as JSON to an operator-supplied endpoint. With
// a secret configured every delivery carries timestamped HMAC headers so the
// receiver can verify origin and freshness.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// webhookPayload is the delivery body. Unlike the chat channels the event
// type rides along, so receivers can route without parsing prose.
type webhookPayload struct {
	Event   string    `json:"event"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// NewWebhookSender creates a WebhookSender. An empty secret disables
// signing.
func NewWebhookSender(url, secret string) *WebhookSender {
	ws := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if secret != "" {
		ws.signer = &crypto.WebhookSigner{Secret: secret}
	}
	return ws
}

// Send posts the alert, signing the body when a secret is configured.
func (w *WebhookSender) Send(ctx context.Context, event Event, title, message string) error {
	body, err := json.Marshal(webhookPayload{
		Event:   string(event),
		Title:   title,
		Message: message,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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
