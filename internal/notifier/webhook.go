package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// webhookBody is the Slack/Mattermost-compatible wire format: a single
// "text" field carrying the rendered message.
type webhookBody struct {
	Text string `json:"text"`
}

// WebhookBackEnd posts JSON bodies to Slack/Mattermost-compatible
// incoming webhook URLs. Failures are returned to the caller to log and
// drop; there is no retry.
type WebhookBackEnd struct {
	client *http.Client
}

// NewWebhookBackEnd builds a WebhookBackEnd using the network client's
// default timeout behavior; there is no internal
// retry or custom deadline beyond what the HTTP client already applies.
func NewWebhookBackEnd() *WebhookBackEnd {
	return &WebhookBackEnd{client: &http.Client{}}
}

// NotifyEvent POSTs body (already fully rendered, including template and
// skip-note) as the webhook's "text" field.
func (w *WebhookBackEnd) NotifyEvent(ctx context.Context, url, body string) error {
	return w.post(ctx, url, body)
}

// NotifyMessage POSTs text as the webhook's "text" field, bypassing any
// event-specific rendering.
func (w *WebhookBackEnd) NotifyMessage(ctx context.Context, url, text string) error {
	return w.post(ctx, url, text)
}

func (w *WebhookBackEnd) post(ctx context.Context, url, text string) error {
	payload, err := json.Marshal(webhookBody{Text: text})
	if err != nil {
		return fmt.Errorf("notifier: encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notifier: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
