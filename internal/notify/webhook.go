// Package notify delivers capture lifecycle events to an optional
// webhook endpoint.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string            `json:"event"`
	Mode      types.CaptureMode `json:"mode,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// SendCaptureStarted notifies that a capture session is running.
func SendCaptureStarted(webhookURL string, mode types.CaptureMode) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "capture_started",
		Mode:      mode,
		Timestamp: timestampUTC(),
	})
}

// SendCaptureStopped notifies that a capture session ended on request.
func SendCaptureStopped(webhookURL string, mode types.CaptureMode) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "capture_stopped",
		Mode:      mode,
		Timestamp: timestampUTC(),
	})
}

// SendCaptureDied notifies that the capture subprocess exited without a
// stop request.
func SendCaptureDied(webhookURL string, mode types.CaptureMode, message string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "capture_died",
		Mode:      mode,
		Message:   message,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification",
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if webhookURL == "" {
		return nil // silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
