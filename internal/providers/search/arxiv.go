package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// AcademicProvider searches arXiv through its Atom query API.
type AcademicProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewAcademicProvider(baseURL string, logger *zap.Logger) *AcademicProvider {
	if baseURL == "" {
		baseURL = "http://export.arxiv.org/api/query"
	}
	return &AcademicProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (p *AcademicProvider) Kind() run.ProviderKind { return run.ProviderAcademic }

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
}

func (p *AcademicProvider) Search(ctx context.Context, query string, settings config.SearchSettings) ([]run.SearchFinding, error) {
	maxDocs := settings.Academic.MaxDocs
	if maxDocs <= 0 {
		maxDocs = config.DefaultAcademicMaxDocs
	}
	findings, err := p.search(ctx, query, maxDocs)
	if err != nil {
		return nil, &run.ProviderError{Provider: string(run.ProviderAcademic), Cause: err}
	}
	return findings, nil
}

func (p *AcademicProvider) search(ctx context.Context, query string, maxDocs int) ([]run.SearchFinding, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", maxDocs))
	params.Set("sortBy", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arxiv request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode arxiv feed: %w", err)
	}

	findings := make([]run.SearchFinding, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		link := e.ID
		for _, l := range e.Links {
			if l.Rel == "alternate" || (l.Rel == "" && l.Type == "text/html") {
				link = l.Href
				break
			}
		}
		authors := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			authors = append(authors, a.Name)
		}
		content := strings.TrimSpace(e.Summary)
		if len(authors) > 0 {
			content = fmt.Sprintf("Authors: %s\nPublished: %s\n\n%s",
				strings.Join(authors, ", "), e.Published, content)
		}
		findings = append(findings, run.SearchFinding{
			SourceID: e.ID,
			Title:    strings.Join(strings.Fields(e.Title), " "),
			URL:      link,
			Content:  content,
			Provider: run.ProviderAcademic,
		})
	}
	p.logger.Debug("Academic search completed",
		zap.String("query", query),
		zap.Int("results", len(findings)))
	return findings, nil
}
