package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/circuitbreaker"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/tracing"
)

// httpDoer lets the transport be wrapped; production wraps it with a
// circuit breaker.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClient calls the LLM service's completion endpoint. The service owns
// provider credentials and routing; the orchestrator only names the
// provider/model pair it wants.
type HTTPClient struct {
	baseURL string
	client  httpDoer
	logger  *zap.Logger
}

func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: circuitbreaker.NewHTTPWrapper(
			&http.Client{Timeout: 120 * time.Second}, "llm-service", "orchestrator", logger),
		logger: logger,
	}
}

type completionRequest struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type completionResponse struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Error        string `json:"error,omitempty"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(completionRequest{
		Provider:    req.Model.Provider,
		Model:       req.Model.Model,
		Messages:    req.Messages,
		MaxTokens:   req.Model.MaxTokens,
		Temperature: req.Model.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.baseURL + "/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, &run.ProviderError{Provider: req.Model.Provider, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, &run.ProviderError{
			Provider: req.Model.Provider,
			Cause:    fmt.Errorf("llm service returned status %d: %s", resp.StatusCode, string(payload)),
		}
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != "" {
		return Response{}, &run.ProviderError{
			Provider: req.Model.Provider,
			Cause:    fmt.Errorf("llm service error: %s", parsed.Error),
		}
	}
	if parsed.Content == "" {
		return Response{}, &run.ProviderError{
			Provider: req.Model.Provider,
			Cause:    fmt.Errorf("llm service returned empty content"),
		}
	}

	c.logger.Debug("Completion finished",
		zap.String("provider", req.Model.Provider),
		zap.String("model", req.Model.Model),
		zap.Int("output_tokens", parsed.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))
	return Response{
		Content:      parsed.Content,
		InputTokens:  parsed.InputTokens,
		OutputTokens: parsed.OutputTokens,
	}, nil
}
