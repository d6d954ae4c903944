package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// WebProvider searches the open web through a Tavily-compatible HTTP API.
type WebProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewWebProvider(baseURL, apiKey string, logger *zap.Logger) *WebProvider {
	return &WebProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (p *WebProvider) Kind() run.ProviderKind { return run.ProviderWeb }

type tavilyRequest struct {
	APIKey            string `json:"api_key,omitempty"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
	SearchDepth       string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

func (p *WebProvider) Search(ctx context.Context, query string, settings config.SearchSettings) ([]run.SearchFinding, error) {
	maxResults := settings.Web.MaxResults
	if maxResults <= 0 {
		maxResults = config.DefaultWebMaxResults
	}
	findings, err := p.search(ctx, query, maxResults, settings.Web.IncludeRawContent)
	if err != nil {
		return nil, &run.ProviderError{Provider: string(run.ProviderWeb), Cause: err}
	}
	return findings, nil
}

func (p *WebProvider) search(ctx context.Context, query string, maxResults int, includeRaw bool) ([]run.SearchFinding, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:            p.apiKey,
		Query:             query,
		MaxResults:        maxResults,
		IncludeRawContent: includeRaw,
		SearchDepth:       "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web search returned status %d: %s", resp.StatusCode, string(payload))
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	findings := make([]run.SearchFinding, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		content := r.Content
		if includeRaw && r.RawContent != "" {
			content = r.RawContent
		}
		findings = append(findings, run.SearchFinding{
			SourceID: r.URL,
			Title:    r.Title,
			URL:      r.URL,
			Content:  content,
			Provider: run.ProviderWeb,
			Score:    r.Score,
		})
	}
	p.logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(findings)))
	return findings, nil
}
