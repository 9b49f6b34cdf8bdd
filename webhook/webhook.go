package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/pilot/models"
)

// Event types fired on run completion.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Event is the payload sent to webhook endpoints on run completion. Data
// carries the same report returned from the run's API response, so a
// webhook consumer and a polling consumer observe identical shapes.
type Event struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp int64             `json:"timestamp"`
	Data      *models.RunReport `json:"data"`
}

// ReportEventType picks run.completed or run.failed from a report's status.
func ReportEventType(report models.RunReport) string {
	if report.Status == models.StatusError {
		return EventRunFailed
	}
	return EventRunCompleted
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
// Header: X-Pilot-Signature: sha256=<hex>
func Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pilot-Webhook/1.0")

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Pilot-Signature", "sha256="+sig)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// backoffBase, backoffMax, and maxAttempts mirror the transport package's
// reconnect backoff (transport/connection.go): double the delay each
// attempt, capped, rather than a fixed interval table.
const (
	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
	maxAttempts = 4
)

// DeliverAsync sends a webhook event asynchronously, retrying with doubling
// backoff (capped at backoffMax) up to maxAttempts total tries.
func DeliverAsync(url, secret string, event *Event) {
	go func() {
		delay := time.Duration(0)
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, url, secret, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"url", url,
					"event", event.Type,
					"run_id", event.RunID,
					"attempt", attempt,
					"max_attempts", maxAttempts,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"run_id", event.RunID,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
			if delay == 0 {
				delay = backoffBase
			} else if delay *= 2; delay > backoffMax {
				delay = backoffMax
			}
		}
		slog.Error("webhook delivery exhausted all retries",
			"url", url,
			"event", event.Type,
			"run_id", event.RunID,
			"max_attempts", maxAttempts,
		)
	}()
}
