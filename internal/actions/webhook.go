package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookNotifyPayload is the action{name: "webhook.notify"} payload shape:
// POST body to an arbitrary URL.
type webhookNotifyPayload struct {
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NewWebhookNotifyHandler returns the "webhook.notify" handler, which POSTs
// payload.Body to payload.URL with a bounded timeout.
func NewWebhookNotifyHandler(timeout time.Duration) Handler {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, payload json.RawMessage) error {
		var notify webhookNotifyPayload
		if err := json.Unmarshal(payload, &notify); err != nil {
			return fmt.Errorf("webhook.notify: parse payload: %w", err)
		}
		if notify.URL == "" {
			return fmt.Errorf("webhook.notify: missing url")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, notify.URL, bytes.NewReader(notify.Body))
		if err != nil {
			return fmt.Errorf("webhook.notify: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range notify.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook.notify: send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook.notify: %s returned %d", notify.URL, resp.StatusCode)
		}
		return nil
	}
}
