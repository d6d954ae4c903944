package run

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a research run. Transitions are monotonic
// except for the planning/feedback revision loop.
type Status string

const (
	StatusInitializing       Status = "initializing"
	StatusPlanning           Status = "planning"
	StatusWaitingForFeedback Status = "waiting_for_feedback"
	StatusProcessingFeedback Status = "processing_feedback"
	StatusResearchingSection Status = "researching_sections"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether the run still has background work pending or may
// resume (a run waiting for feedback is suspended, not finished).
func (s Status) Active() bool {
	return !s.Terminal()
}

// SectionStatus is the explicit per-section state set by the coordinator.
type SectionStatus string

const (
	SectionPending     SectionStatus = "pending"
	SectionResearching SectionStatus = "researching"
	SectionCompleted   SectionStatus = "completed"
	SectionFailed      SectionStatus = "failed"
)

// Section is one named, described unit of report content.
type Section struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	SearchOptions []ProviderKind `json:"search_options,omitempty"`
}

// ReportPlan is the ordered list of sections a report will contain. A plan is
// replaced wholesale on revision, never patched.
type ReportPlan struct {
	Sections []Section `json:"sections"`
}

// SectionNames returns the plan's section names in order.
func (p *ReportPlan) SectionNames() []string {
	names := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		names = append(names, s.Name)
	}
	return names
}

// Citation is the durable part of a search finding: a link the final report
// references.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchFinding is one retrieved source. Findings live only for the duration
// of a single section research pass; citations are extracted before they are
// discarded.
type SearchFinding struct {
	SourceID string       `json:"source_id"`
	Title    string       `json:"title"`
	URL      string       `json:"url"`
	Content  string       `json:"content"`
	Provider ProviderKind `json:"provider"`
	Score    float64      `json:"score,omitempty"`
}

// SectionResult is the immutable output of researching one section.
type SectionResult struct {
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

// ResearchRun is the record of one end-to-end execution. It is mutated only
// through coordinator-owned state transitions; every other component receives
// values and returns results.
type ResearchRun struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id,omitempty"`
	Topic             string      `json:"topic"`
	Status            Status      `json:"status"`
	Plan              *ReportPlan `json:"plan,omitempty"`
	CompletedSections []string    `json:"completed_sections"`
	Progress          float64     `json:"progress"`
	FinalReport       string      `json:"final_report,omitempty"`
	ErrorMessage      string      `json:"error,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// IsQuestion reports whether a topic is phrased as a question. Follows the
// terminal question mark convention, including the full-width form.
func IsQuestion(topic string) bool {
	t := strings.TrimSpace(topic)
	return strings.HasSuffix(t, "?") || strings.HasSuffix(t, "？")
}

// Progress phase boundaries. Section research owns the bulk of the bar;
// values derived from completed-section counts scale into its span so an
// external poller never observes a regression.
const (
	progressPlanReady    = 0.10
	progressResearchSpan = 0.80
	progressConcluding   = 0.95
	progressComplete     = 1.0
)

// PlanProgress is the progress value once a plan is in force.
func PlanProgress() float64 { return progressPlanReady }

// ResearchProgress maps completed/total sections into the research phase.
func ResearchProgress(completed, total int) float64 {
	if total <= 0 {
		return progressPlanReady
	}
	frac := float64(completed) / float64(total)
	if frac > 1 {
		frac = 1
	}
	return progressPlanReady + progressResearchSpan*frac
}

// ConcludingProgress is the value while the conclusion is being written.
func ConcludingProgress() float64 { return progressConcluding }

// CompleteProgress is the final value.
func CompleteProgress() float64 { return progressComplete }
