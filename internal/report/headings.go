package report

import (
	"fmt"
	"strings"
)

// detailLabel names the appended deep-research block inside a section.
const detailLabel = "Detailed Analysis"

// NormalizeHeadingLevel rewrites every markdown heading in content to the
// target level, preserving the heading text.
func NormalizeHeadingLevel(content string, targetLevel int) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			out = append(out, line)
			continue
		}
		hashes := 0
		for _, ch := range trimmed {
			if ch != '#' {
				break
			}
			hashes++
		}
		text := strings.TrimSpace(trimmed[hashes:])
		out = append(out, strings.Repeat("#", targetLevel)+" "+text)
	}
	return strings.Join(out, "\n")
}

// DetectMainSectionLevel returns the smallest heading level present, or 2
// when the content has no headings.
func DetectMainSectionLevel(content string) int {
	minLevel := 6
	found := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		level := 0
		for _, ch := range trimmed {
			if ch != '#' {
				break
			}
			level++
		}
		if level > 0 && level < minLevel {
			minLevel = level
			found = true
		}
	}
	if !found {
		return 2
	}
	return minLevel
}

// countDetailBlocks counts existing deep-research blocks so repeated depth
// rounds get numbered headings.
func countDetailBlocks(content string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, " "+detailLabel) {
			count++
			continue
		}
		for i := 2; i < 10; i++ {
			if strings.HasSuffix(trimmed, fmt.Sprintf(" %s %d", detailLabel, i)) {
				count++
				break
			}
		}
	}
	return count
}

func detailHeading(level, count int, sectionName string) string {
	prefix := strings.Repeat("#", level)
	if count == 0 {
		return fmt.Sprintf("%s %s: %s", prefix, sectionName, detailLabel)
	}
	return fmt.Sprintf("%s %s: %s %d", prefix, sectionName, detailLabel, count+1)
}

// MergeSubsections appends one deep-research round to a section: the
// subsections are normalized one level below the section's main heading
// and grouped under a numbered detail heading.
func MergeSubsections(sectionContent, sectionName string, subsections []string) string {
	content := strings.TrimSpace(sectionContent)
	mainLevel := DetectMainSectionLevel(content)
	subLevel := mainLevel + 1

	normalized := make([]string, 0, len(subsections))
	for _, sub := range subsections {
		normalized = append(normalized, NormalizeHeadingLevel(strings.TrimSpace(sub), subLevel))
	}

	heading := detailHeading(mainLevel, countDetailBlocks(content), sectionName)
	return content + "\n\n" + heading + "\n\n" + strings.Join(normalized, "\n\n")
}
