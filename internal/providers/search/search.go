package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// Provider executes one query against one search capability and returns
// raw findings. Implementations do not deduplicate, truncate, or pace;
// the registry owns that, issuing queries one at a time.
type Provider interface {
	Kind() run.ProviderKind
	Search(ctx context.Context, query string, settings config.SearchSettings) ([]run.SearchFinding, error)
}

// Rough character budget per token, matching how the synthesis prompts
// estimate source size.
const charsPerToken = 4

// Deduplicate drops findings already seen, keeping the first occurrence.
// Identity is the source ID when set, otherwise the URL; local index chunks
// share a file path but carry distinct chunk IDs.
func Deduplicate(findings []run.SearchFinding) []run.SearchFinding {
	seen := make(map[string]struct{}, len(findings))
	out := make([]run.SearchFinding, 0, len(findings))
	for _, f := range findings {
		key := f.SourceID
		if key == "" {
			key = f.URL
		}
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, f)
	}
	return out
}

// Truncate caps each finding's content at roughly maxTokens tokens. A zero
// or negative budget leaves content untouched. The cut backs up to a rune
// boundary so multi-byte sources stay valid UTF-8.
func Truncate(findings []run.SearchFinding, maxTokens int) []run.SearchFinding {
	if maxTokens <= 0 {
		return findings
	}
	budget := maxTokens * charsPerToken
	out := make([]run.SearchFinding, len(findings))
	copy(out, findings)
	for i := range out {
		if len(out[i].Content) > budget {
			cut := budget
			for cut > 0 && !utf8.RuneStart(out[i].Content[cut]) {
				cut--
			}
			out[i].Content = out[i].Content[:cut] + "... [truncated]"
		}
	}
	return out
}

// FormatFindings renders findings into the source block fed to synthesis
// prompts. Sources are numbered so the model can cite them.
func FormatFindings(findings []run.SearchFinding) string {
	if len(findings) == 0 {
		return "No sources found."
	}
	var b strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&b, "Source %d: %s\n", i+1, f.Title)
		if f.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", f.URL)
		}
		fmt.Fprintf(&b, "Content: %s\n", f.Content)
		if i < len(findings)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ExtractCitations pulls the durable part out of findings, deduplicated by
// URL in first-seen order.
func ExtractCitations(findings []run.SearchFinding) []run.Citation {
	seen := make(map[string]struct{}, len(findings))
	out := make([]run.Citation, 0, len(findings))
	for _, f := range findings {
		if f.URL == "" {
			continue
		}
		if _, dup := seen[f.URL]; dup {
			continue
		}
		seen[f.URL] = struct{}{}
		title := f.Title
		if title == "" {
			title = f.URL
		}
		out = append(out, run.Citation{Title: title, URL: f.URL})
	}
	return out
}
