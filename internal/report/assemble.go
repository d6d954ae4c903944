package report

import (
	"fmt"
	"strings"

	"github.com/openreport-ai/orchestrator/internal/run"
)

// FormatSectionsContext renders completed sections into the context string
// fed to the introduction and conclusion writers.
func FormatSectionsContext(sections []run.SectionResult) string {
	var b strings.Builder
	for i, s := range sections {
		content := s.Content
		if content == "" {
			content = "[Not yet written]"
		}
		fmt.Fprintf(&b, "\n%s\nSection %d: %s\n%s\nContent:\n%s\n\n",
			strings.Repeat("=", 60), i+1, s.Name, strings.Repeat("=", 60), content)
	}
	return b.String()
}

// Assemble compiles the final report: introduction, the researched sections
// in plan order, conclusion, then a deduplicated reference list.
func Assemble(plan run.ReportPlan, sections []run.SectionResult, introduction, conclusion string) string {
	byName := make(map[string]run.SectionResult, len(sections))
	for _, s := range sections {
		byName[s.Name] = s
	}

	var parts []string
	if introduction != "" {
		parts = append(parts, "## Introduction\n\n"+strings.TrimSpace(introduction))
	}
	var citations []run.Citation
	for _, planned := range plan.Sections {
		s, ok := byName[planned.Name]
		if !ok || s.Content == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(s.Content))
		citations = append(citations, s.Citations...)
	}
	if conclusion != "" {
		parts = append(parts, "## Conclusion\n\n"+strings.TrimSpace(conclusion))
	}
	if refs := References(citations); refs != "" {
		parts = append(parts, refs)
	}
	return strings.Join(parts, "\n\n")
}

// References renders the numbered reference list, deduplicated by URL in
// first-seen order.
func References(citations []run.Citation) string {
	seen := make(map[string]struct{}, len(citations))
	var b strings.Builder
	n := 0
	for _, c := range citations {
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		n++
		if n == 1 {
			b.WriteString("## References\n\n")
		}
		title := c.Title
		if title == "" {
			title = c.URL
		}
		fmt.Fprintf(&b, "[%d] [%s](%s)\n", n, title, c.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
