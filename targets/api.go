// Package targets implements Retrack's two Target Executors: Page (delegate
// to the scraper worker) and API (chained HTTP requests steered by optional
// configurator/extractor scripts), per spec.md §4.3/§4.4.
package targets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/sandbox"
)

// responseRecord is one HTTP response accumulated while chaining an api
// target's requests, and the shape handed to the configurator/extractor
// scripts' context object.
type responseRecord struct {
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
	Status  int               `json:"status"`
}

// configuratorOutput is the union of what a configurator script may return:
// an override of the next request, or an immediate synthetic response.
type configuratorOutput struct {
	Request  *model.APIRequest `json:"request,omitempty"`
	Response *responseRecord   `json:"response,omitempty"`
}

// APIExecutor runs a tracker's api target: an ordered HTTP request chain,
// optionally steered by a configurator script and reduced by an extractor
// script, per spec.md §4.3.
type APIExecutor struct {
	httpClient *http.Client
	sandbox    *sandbox.Sandbox
}

// NewAPIExecutor builds an APIExecutor. sandbox runs the target's
// configurator/extractor scripts.
func NewAPIExecutor(sb *sandbox.Sandbox) *APIExecutor {
	return &APIExecutor{
		httpClient: &http.Client{},
		sandbox:    sb,
	}
}

// Execute resolves an api target, returning its content: the extractor's
// result, else the last response body (as is when it is valid JSON, otherwise
// base64-encoded as a JSON string). It does not canonicalize the value.
func (e *APIExecutor) Execute(ctx context.Context, target model.APITarget, previousContent json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var responses []responseRecord
	requests := target.Requests

	for i := 0; i < len(requests); i++ {
		req := requests[i]

		if target.Configurator != "" {
			out, err := e.runConfigurator(ctx, target.Configurator, previousContent, requests, responses)
			if err != nil {
				return nil, err
			}
			if out.Response != nil {
				responses = append(responses, *out.Response)
				continue
			}
			if out.Request != nil {
				req = *out.Request
			}
		}

		resp, err := e.issueRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}

	if len(responses) == 0 {
		return nil, retrackerr.New(retrackerr.Validation, "api target has no requests")
	}
	last := responses[len(responses)-1]

	if target.Extractor != "" {
		return e.runExtractor(ctx, target.Extractor, last, previousContent)
	}

	if json.Valid([]byte(last.Body)) {
		return json.RawMessage(last.Body), nil
	}
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString([]byte(last.Body)))
	return encoded, nil
}

func (e *APIExecutor) issueRequest(ctx context.Context, r model.APIRequest) (responseRecord, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return responseRecord{}, retrackerr.Wrap(retrackerr.Validation, err, "build api request")
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return responseRecord{}, retrackerr.Wrap(retrackerr.Transient, err, "api request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return responseRecord{}, retrackerr.Wrap(retrackerr.Transient, err, "read api response")
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	record := responseRecord{Body: string(raw), Headers: headers, Status: resp.StatusCode}

	switch {
	case resp.StatusCode >= 500:
		return record, retrackerr.New(retrackerr.Transient, fmt.Sprintf("api request returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return record, retrackerr.New(retrackerr.Terminal, fmt.Sprintf("api request returned status %d", resp.StatusCode))
	default:
		return record, nil
	}
}

func (e *APIExecutor) runConfigurator(ctx context.Context, source string, previousContent json.RawMessage, requests []model.APIRequest, responses []responseRecord) (configuratorOutput, error) {
	scriptCtx := map[string]any{
		"previousContent": rawOrNil(previousContent),
		"requests":        requests,
		"responses":       responses,
	}
	raw, err := e.sandbox.Run(ctx, "configurator", source, scriptCtx)
	if err != nil {
		return configuratorOutput{}, err
	}
	var out configuratorOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return configuratorOutput{}, retrackerr.Wrap(retrackerr.Terminal, err, "decode configurator result")
	}
	return out, nil
}

func (e *APIExecutor) runExtractor(ctx context.Context, source string, last responseRecord, previousContent json.RawMessage) (json.RawMessage, error) {
	scriptCtx := map[string]any{
		"body":            last.Body,
		"headers":         last.Headers,
		"status":          last.Status,
		"previousContent": rawOrNil(previousContent),
	}
	return e.sandbox.Run(ctx, "extractor", source, scriptCtx)
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
