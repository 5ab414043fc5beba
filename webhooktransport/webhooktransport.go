// Package webhooktransport delivers webhook Task payloads over HTTP. It
// adapts the teacher's webhook.Client (a typed net/http POST client with
// status-code classification) from a single fixed CampaignResult body to an
// arbitrary per-action {url, method, headers, body}. Retry/backoff and
// circuit breaking live one level up in the Task Queue dispatcher, so this
// transport is purely synchronous delivery + classification, corresponding
// to the teacher's SendNotificationSync rather than its fire-and-forget
// SendNotification.
package webhooktransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// Transport delivers webhook Task payloads.
type Transport struct {
	httpClient *http.Client
}

// New builds a Transport over a default http.Client with no client-level
// timeout; each request is bounded only by the ctx passed to Send.
func New() *Transport {
	return &Transport{httpClient: &http.Client{}}
}

// Send issues a webhook task's HTTP request, classifying 2xx as success,
// 5xx/network errors as Transient, and 4xx as Terminal, per spec.md §4.6.
func (t *Transport) Send(ctx context.Context, payload model.WebhookPayload) error {
	if payload.URL == "" {
		return retrackerr.New(retrackerr.Terminal, "webhook task has no url")
	}
	method := payload.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, payload.URL, bytes.NewBufferString(payload.Body))
	if err != nil {
		return retrackerr.Wrap(retrackerr.Terminal, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Retrack-Webhook/1.0")
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "webhook delivery failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return retrackerr.New(retrackerr.Transient, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	default:
		return retrackerr.New(retrackerr.Terminal, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
}
