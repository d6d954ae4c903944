package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// PatentProvider queries an external patent search service over HTTP. The
// service fronts a patent publication dataset and returns title/abstract
// matches ordered by publication date.
type PatentProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewPatentProvider(baseURL string, logger *zap.Logger) *PatentProvider {
	return &PatentProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

func (p *PatentProvider) Kind() run.ProviderKind { return run.ProviderPatent }

type patentRecord struct {
	PatentID        string `json:"patent_id"`
	Title           string `json:"title"`
	Abstract        string `json:"abstract"`
	URL             string `json:"url"`
	PublicationDate string `json:"publication_date"`
}

func (p *PatentProvider) Search(ctx context.Context, query string, settings config.SearchSettings) ([]run.SearchFinding, error) {
	limit := settings.Patent.Limit
	if limit <= 0 {
		limit = config.DefaultPatentLimit
	}
	findings, err := p.search(ctx, query, limit)
	if err != nil {
		return nil, &run.ProviderError{Provider: string(run.ProviderPatent), Cause: err}
	}
	return findings, nil
}

func (p *PatentProvider) search(ctx context.Context, query string, limit int) ([]run.SearchFinding, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/patents/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create patent request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("patent search call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("patent search returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Patents []patentRecord `json:"patents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode patent response: %w", err)
	}

	findings := make([]run.SearchFinding, 0, len(parsed.Patents))
	for _, rec := range parsed.Patents {
		findings = append(findings, run.SearchFinding{
			SourceID: rec.PatentID,
			Title:    fmt.Sprintf("%s (%s)", rec.Title, rec.PatentID),
			URL:      rec.URL,
			Content:  fmt.Sprintf("Published: %s\n\n%s", rec.PublicationDate, rec.Abstract),
			Provider: run.ProviderPatent,
		})
	}
	p.logger.Debug("Patent search completed",
		zap.String("query", query),
		zap.Int("results", len(findings)))
	return findings, nil
}
