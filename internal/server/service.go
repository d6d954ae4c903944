package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/gate"
	"github.com/openreport-ai/orchestrator/internal/metrics"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/streaming"
	"github.com/openreport-ai/orchestrator/internal/workflows"
)

// Service is the application layer between the HTTP API and the workflow
// engine. It owns run creation, feedback routing, and read paths.
type Service struct {
	temporal client.Client
	store    *db.RunStore
	gate     *gate.Store
	defaults config.RunConfig
	logger   *zap.Logger
}

func NewService(temporalClient client.Client, store *db.RunStore, gateStore *gate.Store, defaults config.RunConfig, logger *zap.Logger) *Service {
	return &Service{
		temporal: temporalClient,
		store:    store,
		gate:     gateStore,
		defaults: defaults,
		logger:   logger,
	}
}

// WorkflowID derives the deterministic workflow ID for a run.
func WorkflowID(runID string) string {
	return "research-" + runID
}

// ErrInvalidRequest marks caller mistakes so the HTTP layer can answer
// 400 instead of 500.
var ErrInvalidRequest = errors.New("invalid request")

// StartRunRequest creates one research run. Config overrides are merged
// onto the service defaults and frozen for the run's lifetime.
type StartRunRequest struct {
	Topic  string                 `json:"topic"`
	UserID string                 `json:"-"`
	Config *config.RunConfigPatch `json:"config,omitempty"`
}

// StartRunResponse is returned immediately; research continues in the
// background.
type StartRunResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*StartRunResponse, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must not be empty", ErrInvalidRequest)
	}

	cfg, err := config.Snapshot(s.defaults, req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	runID := uuid.NewString()
	if err := s.store.CreateRun(ctx, runID, req.UserID, topic, cfg); err != nil {
		return nil, err
	}

	_, err = s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(runID),
		TaskQueue: workflows.TaskQueue,
	}, workflows.ResearchRunWorkflow, workflows.RunInput{
		RunID:  runID,
		Topic:  topic,
		UserID: req.UserID,
		Config: cfg,
	})
	if err != nil {
		_ = s.store.UpdateStatus(ctx, runID, run.StatusError, 0, "failed to start workflow: "+err.Error())
		return nil, fmt.Errorf("failed to start research workflow: %w", err)
	}

	metrics.RunsStarted.Inc()
	metrics.RunsActive.Inc()
	s.logger.Info("Research run started",
		zap.String("run_id", runID),
		zap.String("topic", topic),
		zap.String("user_id", req.UserID))
	return &StartRunResponse{RunID: runID, Status: run.StatusInitializing}, nil
}

// GetRun returns the run record with plan and completed sections.
func (s *Service) GetRun(ctx context.Context, runID string) (*run.ResearchRun, error) {
	return s.store.GetRun(ctx, runID)
}

// GetSections returns the per-section research state for a run.
func (s *Service) GetSections(ctx context.Context, runID string) ([]db.SectionRecord, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetSections(ctx, runID)
}

// SubmitFeedback routes a reviewer verdict to the waiting workflow. An
// empty feedback string approves the plan.
func (s *Service) SubmitFeedback(ctx context.Context, runID, feedback string) error {
	if err := s.gate.MarkProcessing(ctx, runID); err != nil {
		if errors.Is(err, gate.ErrGateClosed) {
			r, getErr := s.store.GetRun(ctx, runID)
			if getErr != nil {
				return getErr
			}
			return &run.InvalidStateError{
				Op:       "submit feedback",
				Current:  r.Status,
				Required: run.StatusWaitingForFeedback,
			}
		}
		return err
	}

	feedback = strings.TrimSpace(feedback)
	if err := s.temporal.SignalWorkflow(ctx, WorkflowID(runID), "",
		workflows.SignalPlanFeedback, workflows.PlanFeedback{Feedback: feedback}); err != nil {
		return fmt.Errorf("failed to signal workflow: %w", err)
	}

	outcome := "approved"
	if feedback != "" {
		outcome = "revision"
	}
	metrics.FeedbackSubmissions.WithLabelValues(outcome).Inc()
	s.logger.Info("Plan feedback submitted",
		zap.String("run_id", runID),
		zap.String("outcome", outcome))
	return nil
}

// GetResult returns the final report. Incomplete runs return an
// InvalidStateError so the API can answer 409 instead of 500.
func (s *Service) GetResult(ctx context.Context, runID string) (*run.ResearchRun, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status == run.StatusError {
		return nil, fmt.Errorf("research run failed: %s", r.ErrorMessage)
	}
	if r.Status != run.StatusCompleted {
		return nil, &run.InvalidStateError{
			Op:       "fetch result",
			Current:  r.Status,
			Required: run.StatusCompleted,
		}
	}
	return r, nil
}

// ListRuns returns recent runs, optionally scoped to one user.
func (s *Service) ListRuns(ctx context.Context, userID string, limit, offset int) ([]run.ResearchRun, error) {
	return s.store.ListRuns(ctx, userID, limit, offset)
}

// DeleteRun terminates any in-flight workflow and removes all run state.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Active() {
		if err := s.temporal.TerminateWorkflow(ctx, WorkflowID(runID), "", "run deleted"); err != nil {
			s.logger.Warn("Failed to terminate workflow for deleted run",
				zap.String("run_id", runID),
				zap.Error(err))
		}
		metrics.RunsActive.Dec()
	}
	if err := s.gate.Close(ctx, runID); err != nil {
		s.logger.Warn("Failed to close feedback gate for deleted run",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	if err := s.store.DeleteRun(ctx, runID); err != nil {
		return err
	}
	streaming.Get().Forget(runID)
	s.logger.Info("Research run deleted",
		zap.String("run_id", runID),
		zap.Duration("lifetime", time.Since(r.CreatedAt)))
	return nil
}
