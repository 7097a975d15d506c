// Package notify posts scan lifecycle messages to a chat webhook. Delivery is
// best effort: failures are logged and never propagate into the scan flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zapscan/zapscan/internal/logging"
)

const defaultTimeout = 10 * time.Second

// Notifier delivers plain-text messages to a single webhook URL. A Notifier
// with an empty URL is valid and drops every message.
type Notifier struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// New returns a Notifier for webhookURL; empty disables delivery.
func New(webhookURL string, logger logging.Logger) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With(logging.Field{Key: "component", Value: "notify"}),
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Send posts msg as a chat message. Errors are logged, not returned.
func (n *Notifier) Send(ctx context.Context, msg string) {
	if !n.Enabled() {
		return
	}
	if err := n.post(ctx, msg); err != nil {
		n.logger.Error("webhook delivery failed", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	n.logger.Debug("webhook delivered")
}

func (n *Notifier) post(ctx context.Context, msg string) error {
	body, err := json.Marshal(map[string]string{"text": msg})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
