package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/boarding/internal/retry"
)

// Webhook posts events as JSON {"text": ..., "metadata": ...}
type Webhook struct {
	url        string
	httpClient *http.Client
	policy     *retry.Policy
	breaker    *retry.Breaker
	wg         sync.WaitGroup
}

// NewWebhook creates a webhook notifier
func NewWebhook(url string, timeout time.Duration, policy *retry.Policy) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy:  policy,
		breaker: retry.NewBreaker(5, 2, 60*time.Second),
	}
}

// Notify delivers in the background; the caller's cancellation does not
// abort delivery.
func (w *Webhook) Notify(ctx context.Context, event Event) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Send(context.WithoutCancel(ctx), event); err != nil {
			slog.Warn("Notification delivery failed", "kind", event.Kind, "error", err)
		}
	}()
}

// Close waits for in-flight deliveries
func (w *Webhook) Close() {
	w.wg.Wait()
}

// Send delivers synchronously with retries
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if !w.breaker.Allow() {
		return retry.ErrOpen
	}

	payload, err := json.Marshal(map[string]interface{}{
		"text":     event.Text,
		"metadata": withSeverity(event),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = w.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		return w.deliver(ctx, payload)
	})
	if err != nil {
		w.breaker.Failure()
		return err
	}

	w.breaker.Success()
	return nil
}

func (w *Webhook) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &retry.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func withSeverity(event Event) map[string]interface{} {
	meta := make(map[string]interface{}, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		meta[k] = v
	}
	meta["service"] = "boarding"
	meta["kind"] = event.Kind
	meta["severity"] = event.Severity
	return meta
}
