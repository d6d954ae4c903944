package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/gate"
	"github.com/openreport-ai/orchestrator/internal/metrics"
	"github.com/openreport-ai/orchestrator/internal/providers/llm"
	"github.com/openreport-ai/orchestrator/internal/providers/search"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/streaming"
)

// Activities bundles the side-effecting operations the research workflow
// delegates to Temporal.
type Activities struct {
	store    *db.RunStore
	gate     *gate.Store
	registry *search.Registry
	llm      llm.Client
	index    *search.Index
	logger   *zap.Logger
}

// NewActivities creates the activity set with its dependencies. index may
// be nil when no local document directory is configured.
func NewActivities(store *db.RunStore, gateStore *gate.Store, registry *search.Registry, llmClient llm.Client, index *search.Index, logger *zap.Logger) *Activities {
	return &Activities{
		store:    store,
		gate:     gateStore,
		registry: registry,
		llm:      llmClient,
		index:    index,
		logger:   logger,
	}
}

// UpdateRunStatusInput transitions a run's persisted lifecycle state.
type UpdateRunStatusInput struct {
	RunID        string     `json:"run_id"`
	Status       run.Status `json:"status"`
	Progress     float64    `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (a *Activities) UpdateRunStatus(ctx context.Context, in UpdateRunStatusInput) error {
	if err := a.store.UpdateStatus(ctx, in.RunID, in.Status, in.Progress, in.ErrorMessage); err != nil {
		return err
	}
	evtType := streaming.EventStatusChanged
	if in.Status == run.StatusError {
		evtType = streaming.EventRunError
	}
	streaming.Get().Publish(in.RunID, streaming.Event{
		RunID:     in.RunID,
		Type:      evtType,
		Status:    string(in.Status),
		Message:   in.ErrorMessage,
		Progress:  in.Progress,
		Timestamp: time.Now().UTC(),
	})
	if in.Status.Terminal() {
		metrics.RunsCompleted.WithLabelValues(string(in.Status)).Inc()
		metrics.RunsActive.Dec()
		if r, err := a.store.GetRun(ctx, in.RunID); err == nil {
			metrics.RunDuration.Observe(time.Since(r.CreatedAt).Seconds())
		}
	}
	return nil
}

// SavePlanInput persists a (possibly revised) plan and resets sections.
type SavePlanInput struct {
	RunID string         `json:"run_id"`
	Plan  run.ReportPlan `json:"plan"`
}

func (a *Activities) SavePlan(ctx context.Context, in SavePlanInput) error {
	if err := a.store.SavePlan(ctx, in.RunID, in.Plan); err != nil {
		return err
	}
	streaming.Get().Publish(in.RunID, streaming.Event{
		RunID:     in.RunID,
		Type:      streaming.EventPlanReady,
		Progress:  run.PlanProgress(),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// UpdateSectionStatusInput marks one section's research state.
type UpdateSectionStatusInput struct {
	RunID   string            `json:"run_id"`
	Section string            `json:"section"`
	Status  run.SectionStatus `json:"status"`
}

func (a *Activities) UpdateSectionStatus(ctx context.Context, in UpdateSectionStatusInput) error {
	if err := a.store.UpdateSectionStatus(ctx, in.RunID, in.Section, in.Status); err != nil {
		return err
	}
	if in.Status == run.SectionResearching {
		streaming.Get().Publish(in.RunID, streaming.Event{
			RunID:     in.RunID,
			Type:      streaming.EventSectionStarted,
			Section:   in.Section,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// CompleteSectionInput stores a finished section and the resulting
// progress fraction.
type CompleteSectionInput struct {
	RunID    string            `json:"run_id"`
	Result   run.SectionResult `json:"result"`
	Progress float64           `json:"progress"`
	// Research rounds the section took, including reflection retries.
	Rounds int `json:"rounds,omitempty"`
}

func (a *Activities) CompleteSection(ctx context.Context, in CompleteSectionInput) error {
	if err := a.store.CompleteSection(ctx, in.RunID, in.Result, in.Progress); err != nil {
		return err
	}
	metrics.SectionsResearched.WithLabelValues(string(run.SectionCompleted)).Inc()
	if in.Rounds > 0 {
		metrics.ReflectionRounds.Observe(float64(in.Rounds))
	}
	streaming.Get().Publish(in.RunID, streaming.Event{
		RunID:     in.RunID,
		Type:      streaming.EventSectionCompleted,
		Section:   in.Result.Name,
		Progress:  in.Progress,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// SaveFinalReportInput completes the run with its assembled output.
type SaveFinalReportInput struct {
	RunID  string `json:"run_id"`
	Report string `json:"report"`
}

func (a *Activities) SaveFinalReport(ctx context.Context, in SaveFinalReportInput) error {
	if err := a.store.SaveFinalReport(ctx, in.RunID, in.Report); err != nil {
		return err
	}
	metrics.RunsCompleted.WithLabelValues(string(run.StatusCompleted)).Inc()
	metrics.RunsActive.Dec()
	if r, err := a.store.GetRun(ctx, in.RunID); err == nil {
		metrics.RunDuration.Observe(time.Since(r.CreatedAt).Seconds())
	}
	streaming.Get().Publish(in.RunID, streaming.Event{
		RunID:     in.RunID,
		Type:      streaming.EventReportReady,
		Progress:  run.CompleteProgress(),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// OpenFeedbackGateInput projects "waiting for feedback" into Redis so the
// HTTP layer can validate submissions without a workflow query.
type OpenFeedbackGateInput struct {
	RunID string          `json:"run_id"`
	Round int             `json:"round"`
	Plan  *run.ReportPlan `json:"plan,omitempty"`
}

func (a *Activities) OpenFeedbackGate(ctx context.Context, in OpenFeedbackGateInput) error {
	return a.gate.Open(ctx, in.RunID, in.Round, in.Plan)
}

// CloseFeedbackGateInput removes the gate projection.
type CloseFeedbackGateInput struct {
	RunID string `json:"run_id"`
}

func (a *Activities) CloseFeedbackGate(ctx context.Context, in CloseFeedbackGateInput) error {
	return a.gate.Close(ctx, in.RunID)
}

// ListLocalDocumentsResult reports what the local index can search.
type ListLocalDocumentsResult struct {
	Files  []string `json:"files"`
	Chunks int      `json:"chunks"`
}

func (a *Activities) ListLocalDocuments(ctx context.Context) (ListLocalDocumentsResult, error) {
	if a.index == nil {
		return ListLocalDocumentsResult{}, nil
	}
	files, err := a.index.Files()
	if err != nil {
		return ListLocalDocumentsResult{}, err
	}
	chunks, _, err := a.index.Stats()
	if err != nil {
		return ListLocalDocumentsResult{}, err
	}
	return ListLocalDocumentsResult{Files: files, Chunks: chunks}, nil
}
