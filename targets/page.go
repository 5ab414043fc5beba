package targets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/scraperclient"
)

// PageExecutor runs a tracker's page target by delegating to the out-of-
// process browser worker, per spec.md §4.4.
type PageExecutor struct {
	scraper *scraperclient.Client
}

// NewPageExecutor builds a PageExecutor against the given scraper client.
func NewPageExecutor(scraper *scraperclient.Client) *PageExecutor {
	return &PageExecutor{scraper: scraper}
}

// Execute resolves a page target, returning its canonicalized content.
func (e *PageExecutor) Execute(ctx context.Context, target model.PageTarget, previousContent json.RawMessage, tags []string, timeout time.Duration) (json.RawMessage, error) {
	return e.scraper.Extract(ctx, scraperclient.Request{
		Extractor:                 target.Extractor,
		ExtractorParams:           target.Params,
		ExtractorBackend:          target.Engine,
		Tags:                      tags,
		PreviousContent:           previousContent,
		TimeoutMs:                 timeout.Milliseconds(),
		UserAgent:                 target.UserAgent,
		AcceptInvalidCertificates: target.AcceptInvalidCertificates,
	})
}
