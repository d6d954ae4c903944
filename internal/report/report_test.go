package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreport-ai/orchestrator/internal/run"
)

func TestNormalizeHeadingLevel(t *testing.T) {
	in := "# Title\nbody\n### Deep heading"
	out := NormalizeHeadingLevel(in, 3)
	assert.Equal(t, "### Title\nbody\n### Deep heading", out)
}

func TestDetectMainSectionLevel(t *testing.T) {
	assert.Equal(t, 2, DetectMainSectionLevel("no headings here"))
	assert.Equal(t, 2, DetectMainSectionLevel("## Section\n### Sub"))
	assert.Equal(t, 3, DetectMainSectionLevel("### Only deep"))
}

func TestMergeSubsectionsNumbersRepeatedRounds(t *testing.T) {
	section := "## Background\n\nSome researched text."
	merged := MergeSubsections(section, "Background", []string{"# Subtopic A\ndetails", "# Subtopic B\nmore"})

	assert.Contains(t, merged, "## Background: Detailed Analysis\n")
	assert.Contains(t, merged, "### Subtopic A")
	assert.Contains(t, merged, "### Subtopic B")

	merged2 := MergeSubsections(merged, "Background", []string{"# Subtopic C\nextra"})
	assert.Contains(t, merged2, "## Background: Detailed Analysis 2")
	// First block untouched.
	assert.Contains(t, merged2, "## Background: Detailed Analysis\n")
}

func TestAssemblePlanOrder(t *testing.T) {
	plan := run.ReportPlan{Sections: []run.Section{
		{Name: "First"},
		{Name: "Second"},
	}}
	// Completed in reverse order; assembly must follow the plan.
	sections := []run.SectionResult{
		{Name: "Second", Content: "## Second\n\nsecond body", Citations: []run.Citation{{Title: "B", URL: "https://example.com/b"}}},
		{Name: "First", Content: "## First\n\nfirst body", Citations: []run.Citation{{Title: "A", URL: "https://example.com/a"}}},
	}

	out := Assemble(plan, sections, "intro text", "conclusion text")

	firstIdx := strings.Index(out, "## First")
	secondIdx := strings.Index(out, "## Second")
	require.Greater(t, firstIdx, -1)
	require.Greater(t, secondIdx, -1)
	assert.Less(t, firstIdx, secondIdx)

	assert.True(t, strings.HasPrefix(out, "## Introduction"))
	assert.Contains(t, out, "## Conclusion\n\nconclusion text")
	assert.Contains(t, out, "[1] [B](https://example.com/b)")
	assert.Contains(t, out, "[2] [A](https://example.com/a)")
}

func TestAssembleSkipsMissingSections(t *testing.T) {
	plan := run.ReportPlan{Sections: []run.Section{{Name: "Done"}, {Name: "Failed"}}}
	sections := []run.SectionResult{{Name: "Done", Content: "## Done\n\nbody"}}

	out := Assemble(plan, sections, "", "")
	assert.Contains(t, out, "## Done")
	assert.NotContains(t, out, "Failed")
	assert.NotContains(t, out, "## References")
}

func TestReferencesDeduplicates(t *testing.T) {
	refs := References([]run.Citation{
		{Title: "One", URL: "https://example.com/1"},
		{Title: "One dup", URL: "https://example.com/1"},
		{Title: "", URL: "https://example.com/2"},
		{Title: "no url"},
	})
	assert.Contains(t, refs, "[1] [One](https://example.com/1)")
	assert.Contains(t, refs, "[2] [https://example.com/2](https://example.com/2)")
	assert.NotContains(t, refs, "dup")
}

func TestFormatSectionsContext(t *testing.T) {
	out := FormatSectionsContext([]run.SectionResult{
		{Name: "Alpha", Content: "alpha body"},
		{Name: "Beta"},
	})
	assert.Contains(t, out, "Section 1: Alpha")
	assert.Contains(t, out, "alpha body")
	assert.Contains(t, out, "Section 2: Beta")
	assert.Contains(t, out, "[Not yet written]")
}
