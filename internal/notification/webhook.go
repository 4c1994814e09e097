package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// WebhookDeliverer POSTs the envelope as JSON. Network errors and 5xx answers are
// retried a few times; any other non-2xx answer is final.
type WebhookDeliverer struct {
	url        string
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
}

func NewWebhookDeliverer(url string, timeout time.Duration, logger *slog.Logger) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDeliverer{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 2,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}
}

func (w *WebhookDeliverer) Name() string {
	return "webhook"
}

func (w *WebhookDeliverer) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	b := retry.WithMaxRetries(w.maxRetries, retry.NewExponential(w.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", env.Type)
		req.Header.Set("X-Event-ID", env.ID)

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("webhook request failed: %w", err))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			w.logger.Debug("webhook answered with server error, retrying", "status_code", resp.StatusCode, "event_id", env.ID)
			return retry.RetryableError(fmt.Errorf("webhook returned status %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
	})
}
