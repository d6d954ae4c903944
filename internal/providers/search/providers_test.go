package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

func TestWebProviderSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.MaxResults)

		json.NewEncoder(w).Encode(tavilyResponse{
			Results: []struct {
				Title      string  `json:"title"`
				URL        string  `json:"url"`
				Content    string  `json:"content"`
				RawContent string  `json:"raw_content"`
				Score      float64 `json:"score"`
			}{
				{Title: "Result", URL: "https://example.com/r", Content: "snippet", Score: 0.9},
			},
		})
	}))
	defer srv.Close()

	p := NewWebProvider(srv.URL, "test-key", zaptest.NewLogger(t))
	settings := config.SearchSettings{Web: config.WebSearchSettings{MaxResults: 3}}
	findings, err := p.Search(context.Background(), "quantum computing", settings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, run.ProviderWeb, findings[0].Provider)
	assert.Equal(t, "snippet", findings[0].Content)
	assert.InDelta(t, 0.9, findings[0].Score, 0.001)
}

func TestWebProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewWebProvider(srv.URL, "", zaptest.NewLogger(t))
	_, err := p.Search(context.Background(), "q", config.SearchSettings{})
	require.Error(t, err)
	var perr *run.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, string(run.ProviderWeb), perr.Provider)
}

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <title>Sample   Paper
      Title</title>
    <summary>An abstract about things.</summary>
    <published>2024-01-01T00:00:00Z</published>
    <author><name>A. Author</name></author>
    <author><name>B. Author</name></author>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`

func TestAcademicProviderSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:transformers", r.URL.Query().Get("search_query"))
		assert.Equal(t, "5", r.URL.Query().Get("max_results"))
		w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	p := NewAcademicProvider(srv.URL, zaptest.NewLogger(t))
	settings := config.SearchSettings{Academic: config.AcademicSearchSettings{MaxDocs: 5}}
	findings, err := p.Search(context.Background(), "transformers", settings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Sample Paper Title", findings[0].Title)
	assert.Equal(t, "http://arxiv.org/abs/2401.00001v1", findings[0].URL)
	assert.Contains(t, findings[0].Content, "A. Author, B. Author")
	assert.Contains(t, findings[0].Content, "An abstract about things.")
}

func TestPatentProviderSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/patents/search", r.URL.Path)
		assert.Equal(t, "battery", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{
			"patents": []patentRecord{
				{
					PatentID:        "US-1234567-B2",
					Title:           "Battery thing",
					Abstract:        "A better battery.",
					URL:             "https://patents.example.com/US-1234567-B2",
					PublicationDate: "2023-05-01",
				},
			},
		})
	}))
	defer srv.Close()

	p := NewPatentProvider(srv.URL, zaptest.NewLogger(t))
	findings, err := p.Search(context.Background(), "battery", config.SearchSettings{})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Battery thing (US-1234567-B2)", findings[0].Title)
	assert.Contains(t, findings[0].Content, "A better battery.")
}
