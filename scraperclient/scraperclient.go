// Package scraperclient is a typed client to the out-of-process browser
// worker that executes page extractors (spec.md §4.4). It is built directly
// on net/http, following the teacher's webhook.Client convention rather than
// pulling in an HTTP client library the teacher itself doesn't use.
package scraperclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retrack/retrack/internal/retrackerr"
)

// Request is the JSON body POSTed to the scraper worker's extraction
// endpoint, per spec.md §4.4.
type Request struct {
	Extractor                string          `json:"extractor"`
	ExtractorParams          json.RawMessage `json:"extractorParams,omitempty"`
	ExtractorBackend         string          `json:"extractorBackend,omitempty"`
	Tags                     []string        `json:"tags,omitempty"`
	PreviousContent          json.RawMessage `json:"previousContent,omitempty"`
	TimeoutMs                int64           `json:"timeout"`
	UserAgent                string          `json:"userAgent,omitempty"`
	AcceptInvalidCertificates bool           `json:"acceptInvalidCertificates,omitempty"`
}

// errorBody is the JSON shape of a 4xx scraper worker response.
type errorBody struct {
	Message string `json:"message"`
}

// Client submits extraction requests to the scraper worker.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client against the worker's base URL
// (config.ComponentsConfig.WebScraperURL, spec.md §6.4).
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
}

// Extract submits req to the worker and returns its canonicalized content
// value, or a classified error: Transient for 5xx/network faults, Terminal
// for 4xx script/sandbox violations, ScriptTimeout when the worker reports
// the stable timeout message.
func (c *Client) Extract(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Validation, err, "marshal scraper request")
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/web_page/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Fatal, err, "build scraper request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scraper request timed out")
		}
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "scraper request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "read scraper response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.RawMessage(body), nil
	case resp.StatusCode >= 500:
		return nil, retrackerr.New(retrackerr.Transient, fmt.Sprintf("scraper worker fault: status %d", resp.StatusCode))
	default:
		var eb errorBody
		message := fmt.Sprintf("scraper rejected request: status %d", resp.StatusCode)
		if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
			message = eb.Message
		}
		if isTimeoutMessage(message) {
			return nil, retrackerr.New(retrackerr.ScriptTimeout, message)
		}
		return nil, retrackerr.New(retrackerr.Terminal, message)
	}
}

func isTimeoutMessage(message string) bool {
	const marker = "execution was terminated due to timeout"
	return len(message) >= len(marker) && message[:len(marker)] == marker
}
