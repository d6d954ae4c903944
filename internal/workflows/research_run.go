package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/openreport-ai/orchestrator/internal/activities"
	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/report"
	"github.com/openreport-ai/orchestrator/internal/run"
)

const (
	// TaskQueue is the queue the worker and all run starts share.
	TaskQueue = "research-orchestrator"

	// SignalPlanFeedback delivers the reviewer's verdict on a plan. An
	// empty feedback string approves; anything else triggers a revision.
	SignalPlanFeedback = "plan-feedback"

	// QueryRunState exposes the live run state for pollers.
	QueryRunState = "run-state"
)

// RunInput starts one research run. Config is the snapshot frozen at run
// creation; defaults changed afterwards never affect this run.
type RunInput struct {
	RunID  string           `json:"run_id"`
	Topic  string           `json:"topic"`
	UserID string           `json:"user_id,omitempty"`
	Config config.RunConfig `json:"config"`
}

// RunResult is the workflow's return value. The report is also persisted
// by the final activity, so callers may read either.
type RunResult struct {
	RunID          string   `json:"run_id"`
	Report         string   `json:"report"`
	Sections       []string `json:"sections"`
	FailedSections []string `json:"failed_sections,omitempty"`
	Revisions      int      `json:"revisions"`
}

// PlanFeedback is the payload of SignalPlanFeedback.
type PlanFeedback struct {
	Feedback string `json:"feedback"`
}

// RunState is the QueryRunState projection.
type RunState struct {
	Status   run.Status      `json:"status"`
	Plan     *run.ReportPlan `json:"plan,omitempty"`
	Round    int             `json:"round"`
	Progress float64         `json:"progress"`
}

func persistOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	}
}

func pipelineOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
}

// ResearchRunWorkflow coordinates one run end to end: plan, optional human
// feedback loop, concurrent section research with reflection and deep
// research, then introduction, conclusion, and assembly.
func ResearchRunWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	cfg := input.Config

	state := &RunState{Status: run.StatusInitializing}
	if err := workflow.SetQueryHandler(ctx, QueryRunState, func() (RunState, error) {
		return *state, nil
	}); err != nil {
		return RunResult{}, err
	}

	persistCtx := workflow.WithActivityOptions(ctx, persistOptions())
	llmCtx := workflow.WithActivityOptions(ctx, pipelineOptions())

	setStatus := func(status run.Status, progress float64) error {
		state.Status = status
		state.Progress = progress
		return workflow.ExecuteActivity(persistCtx, "UpdateRunStatus", activities.UpdateRunStatusInput{
			RunID:    input.RunID,
			Status:   status,
			Progress: progress,
		}).Get(persistCtx, nil)
	}

	// fail records the terminal error and cleans up any open gate on a
	// disconnected context so cancellation cannot skip it.
	fail := func(cause error) (RunResult, error) {
		logger.Error("Research run failed", "run_id", input.RunID, "error", cause)
		dc, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dc = workflow.WithActivityOptions(dc, persistOptions())
		_ = workflow.ExecuteActivity(dc, "CloseFeedbackGate", activities.CloseFeedbackGateInput{
			RunID: input.RunID,
		}).Get(dc, nil)
		_ = workflow.ExecuteActivity(dc, "UpdateRunStatus", activities.UpdateRunStatusInput{
			RunID:        input.RunID,
			Status:       run.StatusError,
			Progress:     state.Progress,
			ErrorMessage: cause.Error(),
		}).Get(dc, nil)
		state.Status = run.StatusError
		return RunResult{RunID: input.RunID}, cause
	}

	if err := setStatus(run.StatusPlanning, 0); err != nil {
		return RunResult{}, err
	}

	// Local search is only offered to the planner when the index actually
	// has documents behind it.
	if run.ContainsProviderKind(cfg.AvailableSearchProviders, run.ProviderLocal) {
		var docs activities.ListLocalDocumentsResult
		err := workflow.ExecuteActivity(persistCtx, "ListLocalDocuments").Get(persistCtx, &docs)
		if err != nil || len(docs.Files) == 0 {
			if err != nil {
				logger.Warn("Local document listing failed, disabling local search",
					"run_id", input.RunID, "error", err)
			} else {
				logger.Info("Local index is empty, disabling local search",
					"run_id", input.RunID)
			}
			cfg.AvailableSearchProviders = run.WithoutProviderKind(cfg.AvailableSearchProviders, run.ProviderLocal)
			if cfg.DefaultSearchProvider == run.ProviderLocal {
				cfg.DefaultSearchProvider = run.ProviderWeb
			}
			input.Config = cfg
		} else {
			logger.Debug("Local index available",
				"run_id", input.RunID,
				"files", len(docs.Files),
				"chunks", docs.Chunks)
		}
	}

	isQuestion := run.IsQuestion(input.Topic)

	// Question topics get their introduction up front so the planner can
	// shape sections around the direct answer.
	var introduction string
	if isQuestion {
		var introRes activities.WriteIntroductionResult
		if err := workflow.ExecuteActivity(llmCtx, "WriteIntroduction", activities.WriteIntroductionInput{
			RunID:  input.RunID,
			Topic:  input.Topic,
			Config: cfg,
		}).Get(llmCtx, &introRes); err != nil {
			return fail(err)
		}
		introduction = introRes.Introduction
	}

	var planRes activities.GeneratePlanResult
	if err := workflow.ExecuteActivity(llmCtx, "GeneratePlan", activities.GeneratePlanInput{
		RunID:        input.RunID,
		Topic:        input.Topic,
		IsQuestion:   isQuestion,
		Introduction: introduction,
		Config:       cfg,
	}).Get(llmCtx, &planRes); err != nil {
		return fail(err)
	}
	plan := planRes.Plan
	if err := workflow.ExecuteActivity(persistCtx, "SavePlan", activities.SavePlanInput{
		RunID: input.RunID,
		Plan:  plan,
	}).Get(persistCtx, nil); err != nil {
		return fail(err)
	}
	state.Plan = &plan

	revisions := 0
	if !cfg.SkipHumanFeedback {
		feedbackCh := workflow.GetSignalChannel(ctx, SignalPlanFeedback)
		for {
			state.Round = revisions + 1
			if err := workflow.ExecuteActivity(persistCtx, "OpenFeedbackGate", activities.OpenFeedbackGateInput{
				RunID: input.RunID,
				Round: state.Round,
				Plan:  &plan,
			}).Get(persistCtx, nil); err != nil {
				return fail(err)
			}
			if err := setStatus(run.StatusWaitingForFeedback, run.PlanProgress()); err != nil {
				return fail(err)
			}

			var fb PlanFeedback
			feedbackCh.Receive(ctx, &fb)

			if err := workflow.ExecuteActivity(persistCtx, "CloseFeedbackGate", activities.CloseFeedbackGateInput{
				RunID: input.RunID,
			}).Get(persistCtx, nil); err != nil {
				return fail(err)
			}
			if err := setStatus(run.StatusProcessingFeedback, run.PlanProgress()); err != nil {
				return fail(err)
			}

			feedback := strings.TrimSpace(fb.Feedback)
			if feedback == "" {
				break
			}

			revisions++
			logger.Info("Plan rejected, replanning",
				"run_id", input.RunID,
				"revision", revisions)
			if err := workflow.ExecuteActivity(llmCtx, "GeneratePlan", activities.GeneratePlanInput{
				RunID:        input.RunID,
				Topic:        input.Topic,
				IsQuestion:   isQuestion,
				Feedback:     feedback,
				Introduction: introduction,
				Config:       cfg,
			}).Get(llmCtx, &planRes); err != nil {
				return fail(err)
			}
			plan = planRes.Plan
			if err := workflow.ExecuteActivity(persistCtx, "SavePlan", activities.SavePlanInput{
				RunID: input.RunID,
				Plan:  plan,
			}).Get(persistCtx, nil); err != nil {
				return fail(err)
			}
			state.Plan = &plan
		}
	}

	if err := setStatus(run.StatusResearchingSection, run.PlanProgress()); err != nil {
		return fail(err)
	}

	type sectionOutcome struct {
		Name   string
		Result run.SectionResult
		Rounds int
		Err    string
	}

	total := len(plan.Sections)
	resultsChan := workflow.NewChannel(ctx)
	sem := workflow.NewSemaphore(ctx, int64(cfg.MaxConcurrentSections))
	for _, section := range plan.Sections {
		section := section
		workflow.Go(ctx, func(gctx workflow.Context) {
			if err := sem.Acquire(gctx, 1); err != nil {
				resultsChan.Send(gctx, sectionOutcome{Name: section.Name, Err: err.Error()})
				return
			}
			defer sem.Release(1)
			result, rounds, err := researchSection(gctx, input, section)
			if err != nil {
				resultsChan.Send(gctx, sectionOutcome{Name: section.Name, Err: err.Error()})
				return
			}
			resultsChan.Send(gctx, sectionOutcome{Name: section.Name, Result: result, Rounds: rounds})
		})
	}

	completedByName := make(map[string]run.SectionResult, total)
	var failed []string
	for i := 0; i < total; i++ {
		var out sectionOutcome
		resultsChan.Receive(ctx, &out)
		if out.Err != "" {
			logger.Warn("Section research failed",
				"run_id", input.RunID,
				"section", out.Name,
				"error", out.Err)
			failed = append(failed, out.Name)
			_ = workflow.ExecuteActivity(persistCtx, "UpdateSectionStatus", activities.UpdateSectionStatusInput{
				RunID:   input.RunID,
				Section: out.Name,
				Status:  run.SectionFailed,
			}).Get(persistCtx, nil)
			continue
		}
		completedByName[out.Name] = out.Result
		progress := run.ResearchProgress(len(completedByName), total)
		state.Progress = progress
		if err := workflow.ExecuteActivity(persistCtx, "CompleteSection", activities.CompleteSectionInput{
			RunID:    input.RunID,
			Result:   out.Result,
			Progress: progress,
			Rounds:   out.Rounds,
		}).Get(persistCtx, nil); err != nil {
			return fail(err)
		}
	}

	if len(failed) > 0 && (!cfg.PartialResults || len(completedByName) == 0) {
		return fail(&run.ResearchError{
			Section: failed[0],
			Cause:   fmt.Errorf("%d of %d sections failed", len(failed), total),
		})
	}

	if err := setStatus(run.StatusResearchingSection, run.ConcludingProgress()); err != nil {
		return fail(err)
	}

	ordered := make([]run.SectionResult, 0, len(completedByName))
	for _, s := range plan.Sections {
		if r, ok := completedByName[s.Name]; ok {
			ordered = append(ordered, r)
		}
	}

	if !isQuestion {
		var introRes activities.WriteIntroductionResult
		if err := workflow.ExecuteActivity(llmCtx, "WriteIntroduction", activities.WriteIntroductionInput{
			RunID:  input.RunID,
			Topic:  input.Topic,
			Config: cfg,
		}).Get(llmCtx, &introRes); err != nil {
			return fail(err)
		}
		introduction = introRes.Introduction
	}

	var conclRes activities.WriteConclusionResult
	if err := workflow.ExecuteActivity(llmCtx, "WriteConclusion", activities.WriteConclusionInput{
		RunID:           input.RunID,
		Topic:           input.Topic,
		IsQuestion:      isQuestion,
		SectionsContext: report.FormatSectionsContext(ordered),
		Config:          cfg,
	}).Get(llmCtx, &conclRes); err != nil {
		return fail(err)
	}

	final := report.Assemble(plan, ordered, introduction, conclRes.Conclusion)
	if err := workflow.ExecuteActivity(persistCtx, "SaveFinalReport", activities.SaveFinalReportInput{
		RunID:  input.RunID,
		Report: final,
	}).Get(persistCtx, nil); err != nil {
		return fail(err)
	}
	state.Status = run.StatusCompleted
	state.Progress = run.CompleteProgress()

	names := make([]string, 0, len(ordered))
	for _, s := range ordered {
		names = append(names, s.Name)
	}
	logger.Info("Research run completed",
		"run_id", input.RunID,
		"sections", len(names),
		"failed_sections", len(failed),
		"revisions", revisions)
	return RunResult{
		RunID:          input.RunID,
		Report:         final,
		Sections:       names,
		FailedSections: failed,
		Revisions:      revisions,
	}, nil
}

// researchSection runs the research loop for one section: search, write,
// grade, retry with follow-up queries up to the reflection budget, then
// deep research rounds when enabled.
func researchSection(ctx workflow.Context, input RunInput, section run.Section) (run.SectionResult, int, error) {
	logger := workflow.GetLogger(ctx)
	cfg := input.Config
	persistCtx := workflow.WithActivityOptions(ctx, persistOptions())
	llmCtx := workflow.WithActivityOptions(ctx, pipelineOptions())

	if err := workflow.ExecuteActivity(persistCtx, "UpdateSectionStatus", activities.UpdateSectionStatusInput{
		RunID:   input.RunID,
		Section: section.Name,
		Status:  run.SectionResearching,
	}).Get(persistCtx, nil); err != nil {
		return run.SectionResult{}, 0, err
	}

	var queriesRes activities.GenerateSectionQueriesResult
	if err := workflow.ExecuteActivity(llmCtx, "GenerateSectionQueries", activities.GenerateSectionQueriesInput{
		Topic:   input.Topic,
		Section: section,
		Config:  cfg,
	}).Get(llmCtx, &queriesRes); err != nil {
		return run.SectionResult{}, 0, err
	}

	providers := queriesRes.Providers
	queries := queriesRes.QueriesByProvider
	var content string
	var citations []run.Citation
	rounds := 0
	for {
		rounds++
		var searchRes activities.ExecuteSearchResult
		if err := workflow.ExecuteActivity(llmCtx, "ExecuteSearch", activities.ExecuteSearchInput{
			RunID:             input.RunID,
			Providers:         providers,
			QueriesByProvider: queries,
			Config:            cfg,
		}).Get(llmCtx, &searchRes); err != nil {
			return run.SectionResult{}, rounds, err
		}
		citations = append(citations, searchRes.Citations...)

		var synth activities.SynthesizeSectionResult
		if err := workflow.ExecuteActivity(llmCtx, "SynthesizeSection", activities.SynthesizeSectionInput{
			Topic:           input.Topic,
			SectionName:     section.Name,
			SectionTopic:    section.Description,
			ExistingContent: content,
			SourceContext:   searchRes.SourceContext,
			Config:          cfg,
		}).Get(llmCtx, &synth); err != nil {
			return run.SectionResult{}, rounds, err
		}
		content = synth.Content

		if rounds >= cfg.MaxReflection {
			break
		}

		var grade activities.GradeSectionResult
		if err := workflow.ExecuteActivity(llmCtx, "GradeSection", activities.GradeSectionInput{
			Topic:        input.Topic,
			SectionTopic: section.Description,
			Content:      content,
			Config:       cfg,
		}).Get(llmCtx, &grade); err != nil {
			return run.SectionResult{}, rounds, err
		}
		if grade.Pass {
			break
		}

		// Follow-up queries go back through the same provider set.
		followUps := make(map[run.ProviderKind][]string, len(providers))
		for _, p := range providers {
			followUps[p] = grade.FollowUpQueries
		}
		queries = followUps
	}

	if content == "" {
		return run.SectionResult{}, rounds, fmt.Errorf("section %q produced no content", section.Name)
	}
	if cfg.EnableDeepResearch {
		content = deepResearch(ctx, input, section, content, &citations)
	}

	logger.Debug("Section research finished",
		"run_id", input.RunID,
		"section", section.Name,
		"rounds", rounds)
	return run.SectionResult{Name: section.Name, Content: content, Citations: citations}, rounds, nil
}

// deepResearch expands a finished section with subtopic rounds. Failures
// here are soft: the section keeps its base content.
func deepResearch(ctx workflow.Context, input RunInput, section run.Section, content string, citations *[]run.Citation) string {
	logger := workflow.GetLogger(ctx)
	cfg := input.Config
	llmCtx := workflow.WithActivityOptions(ctx, pipelineOptions())

	// Follow-up searches for one section never exceed breadth^depth.
	budget := 0
	if cfg.DeepResearchBreadth > 0 {
		budget = 1
		for i := 0; i < cfg.DeepResearchDepth; i++ {
			budget *= cfg.DeepResearchBreadth
		}
	}

	for depth := 1; depth <= cfg.DeepResearchDepth && budget > 0; depth++ {
		var planDeep activities.PlanDeepResearchResult
		if err := workflow.ExecuteActivity(llmCtx, "PlanDeepResearch", activities.PlanDeepResearchInput{
			Topic:          input.Topic,
			SectionName:    section.Name,
			SectionContent: content,
			CurrentDepth:   depth,
			Config:         cfg,
		}).Get(llmCtx, &planDeep); err != nil {
			logger.Warn("Deep research planning failed, keeping section as written",
				"section", section.Name, "depth", depth, "error", err)
			return content
		}
		if len(planDeep.Subtopics) == 0 {
			return content
		}

		var subsections []string
		for _, st := range planDeep.Subtopics {
			if budget == 0 {
				break
			}
			budget--
			var dq activities.GenerateDeepQueriesResult
			if err := workflow.ExecuteActivity(llmCtx, "GenerateDeepQueries", activities.GenerateDeepQueriesInput{
				Topic:       input.Topic,
				SectionName: section.Name,
				Subtopic:    st,
				Config:      cfg,
			}).Get(llmCtx, &dq); err != nil {
				logger.Warn("Deep research query generation failed",
					"section", section.Name, "subtopic", st.Name, "error", err)
				continue
			}
			var searchRes activities.ExecuteSearchResult
			if err := workflow.ExecuteActivity(llmCtx, "ExecuteSearch", activities.ExecuteSearchInput{
				RunID:             input.RunID,
				Providers:         dq.Providers,
				QueriesByProvider: dq.QueriesByProvider,
				Config:            cfg,
			}).Get(llmCtx, &searchRes); err != nil {
				logger.Warn("Deep research search failed",
					"section", section.Name, "subtopic", st.Name, "error", err)
				continue
			}
			*citations = append(*citations, searchRes.Citations...)

			var sub activities.SynthesizeSubsectionResult
			if err := workflow.ExecuteActivity(llmCtx, "SynthesizeSubsection", activities.SynthesizeSubsectionInput{
				Topic:         input.Topic,
				SectionName:   section.Name,
				Subtopic:      st.Name,
				SourceContext: searchRes.SourceContext,
				Config:        cfg,
			}).Get(llmCtx, &sub); err != nil {
				logger.Warn("Deep research synthesis failed",
					"section", section.Name, "subtopic", st.Name, "error", err)
				continue
			}
			if sub.Content != "" {
				subsections = append(subsections, sub.Content)
			}
		}
		if len(subsections) == 0 {
			return content
		}
		content = report.MergeSubsections(content, section.Name, subsections)
	}
	return content
}
