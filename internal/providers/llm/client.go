package llm

import (
	"context"

	"github.com/openreport-ai/orchestrator/internal/config"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Request is a single completion call against a selected model.
type Request struct {
	Model    config.ModelSelection `json:"model"`
	Messages []Message             `json:"messages"`
}

// Response carries the model output plus usage for metering.
type Response struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Client produces completions. The production implementation fronts the
// LLM service over HTTP; tests substitute a stub.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// SystemUser builds the common two-message request shape.
func SystemUser(model config.ModelSelection, system, user string) Request {
	return Request{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
}
