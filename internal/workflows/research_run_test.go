package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/openreport-ai/orchestrator/internal/activities"
	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

func testConfig() config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.SkipHumanFeedback = true
	cfg.EnableDeepResearch = false
	cfg.MaxReflection = 1
	cfg.PartialResults = false
	cfg.RequestDelaySeconds = 0
	return cfg
}

func twoSectionPlan() run.ReportPlan {
	return run.ReportPlan{Sections: []run.Section{
		{Name: "Background", Description: "History and context", SearchOptions: []run.ProviderKind{run.ProviderWeb}},
		{Name: "Applications", Description: "Current uses", SearchOptions: []run.ProviderKind{run.ProviderWeb}},
	}}
}

// mockPersistence wires the always-nil persistence activities.
func mockPersistence(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(activities.NewActivities(nil, nil, nil, nil, nil, nil))
	env.OnActivity("UpdateRunStatus", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("SavePlan", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateSectionStatus", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("CompleteSection", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("SaveFinalReport", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("OpenFeedbackGate", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("CloseFeedbackGate", mock.Anything, mock.Anything).Return(nil)
}

func mockSectionQueries(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity("GenerateSectionQueries", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateSectionQueriesInput) (activities.GenerateSectionQueriesResult, error) {
			return activities.GenerateSectionQueriesResult{
				Providers: []run.ProviderKind{run.ProviderWeb},
				QueriesByProvider: map[run.ProviderKind][]string{
					run.ProviderWeb: {in.Section.Name + " query"},
				},
			}, nil
		})
}

func mockSectionPipeline(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity("ExecuteSearch", mock.Anything, mock.Anything).Return(
		activities.ExecuteSearchResult{
			SourceContext: "=== WEB SEARCH RESULTS ===\nsources",
			Citations:     []run.Citation{{Title: "Source", URL: "https://example.com/src"}},
		}, nil)
	env.OnActivity("SynthesizeSection", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.SynthesizeSectionInput) (activities.SynthesizeSectionResult, error) {
			return activities.SynthesizeSectionResult{Content: "## " + in.SectionName + "\n\nResearched content."}, nil
		})
	env.OnActivity("WriteIntroduction", mock.Anything, mock.Anything).Return(
		activities.WriteIntroductionResult{Introduction: "Opening paragraph."}, nil)
	env.OnActivity("WriteConclusion", mock.Anything, mock.Anything).Return(
		activities.WriteConclusionResult{Conclusion: "Closing paragraph."}, nil)
}

func TestResearchRunWorkflowHappyPath(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil)

	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-1",
		Topic:  "Solid state batteries",
		Config: testConfig(),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, []string{"Background", "Applications"}, result.Sections)
	assert.Empty(t, result.FailedSections)
	assert.Zero(t, result.Revisions)

	// Sections appear in plan order regardless of completion order.
	bgIdx := strings.Index(result.Report, "## Background")
	appIdx := strings.Index(result.Report, "## Applications")
	require.Greater(t, bgIdx, -1)
	require.Greater(t, appIdx, -1)
	assert.Less(t, bgIdx, appIdx)
	assert.Contains(t, result.Report, "## Introduction")
	assert.Contains(t, result.Report, "## Conclusion")
	assert.Contains(t, result.Report, "## References")
}

func TestResearchRunWorkflowFeedbackRevision(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)

	planCalls := 0
	var feedbackSeen []string
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GeneratePlanInput) (activities.GeneratePlanResult, error) {
			planCalls++
			feedbackSeen = append(feedbackSeen, in.Feedback)
			return activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil
		})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedback{Feedback: "merge the overlap between sections"})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedback{Feedback: ""})
	}, 2*time.Minute)

	cfg := testConfig()
	cfg.SkipHumanFeedback = false
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-2",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Revisions)
	require.Equal(t, 2, planCalls)
	assert.Equal(t, "", feedbackSeen[0])
	assert.Equal(t, "merge the overlap between sections", feedbackSeen[1])
}

func TestResearchRunWorkflowReflectionRetries(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: run.ReportPlan{Sections: []run.Section{
			{Name: "Background", Description: "History", SearchOptions: []run.ProviderKind{run.ProviderWeb}},
		}}}, nil)

	gradeCalls := 0
	env.OnActivity("GradeSection", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GradeSectionInput) (activities.GradeSectionResult, error) {
			gradeCalls++
			if gradeCalls == 1 {
				return activities.GradeSectionResult{Pass: false, FollowUpQueries: []string{"missing angle"}}, nil
			}
			return activities.GradeSectionResult{Pass: true}, nil
		})

	cfg := testConfig()
	cfg.MaxReflection = 3
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-3",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 2, gradeCalls)
	env.AssertNumberOfCalls(t, "ExecuteSearch", 2)
}

func TestResearchRunWorkflowDeepResearchBound(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: run.ReportPlan{Sections: []run.Section{
			{Name: "Background", Description: "History", SearchOptions: []run.ProviderKind{run.ProviderWeb}},
		}}}, nil)
	env.OnActivity("GradeSection", mock.Anything, mock.Anything).Return(
		activities.GradeSectionResult{Pass: true}, nil)

	subtopicCalls := 0
	env.OnActivity("PlanDeepResearch", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.PlanDeepResearchInput) (activities.PlanDeepResearchResult, error) {
			return activities.PlanDeepResearchResult{Subtopics: []activities.Subtopic{
				{Name: "Lead A", Description: "first"},
				{Name: "Lead B", Description: "second"},
				{Name: "Lead C", Description: "third"},
			}}, nil
		})
	env.OnActivity("GenerateDeepQueries", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateDeepQueriesInput) (activities.GenerateDeepQueriesResult, error) {
			subtopicCalls++
			return activities.GenerateDeepQueriesResult{
				Providers: []run.ProviderKind{run.ProviderWeb},
				QueriesByProvider: map[run.ProviderKind][]string{
					run.ProviderWeb: {in.Subtopic.Name + " query"},
				},
			}, nil
		})
	env.OnActivity("SynthesizeSubsection", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.SynthesizeSubsectionInput) (activities.SynthesizeSubsectionResult, error) {
			return activities.SynthesizeSubsectionResult{Content: "### " + in.Subtopic + "\n\nDetail."}, nil
		})

	cfg := testConfig()
	cfg.EnableDeepResearch = true
	cfg.DeepResearchDepth = 2
	cfg.DeepResearchBreadth = 3
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-4",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// depth rounds x subtopics per round, never more.
	assert.LessOrEqual(t, subtopicCalls, cfg.DeepResearchDepth*cfg.DeepResearchBreadth)
	assert.Equal(t, 6, subtopicCalls)
	env.AssertNumberOfCalls(t, "PlanDeepResearch", 2)

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Contains(t, result.Report, "Background: Detailed Analysis")
	assert.Contains(t, result.Report, "Detailed Analysis 2")
}

func TestResearchRunWorkflowDeepResearchNarrowBreadth(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: run.ReportPlan{Sections: []run.Section{
			{Name: "Background", Description: "History", SearchOptions: []run.ProviderKind{run.ProviderWeb}},
		}}}, nil)
	env.OnActivity("GradeSection", mock.Anything, mock.Anything).Return(
		activities.GradeSectionResult{Pass: true}, nil)

	// An overzealous planner response; the total-search cap still holds.
	env.OnActivity("PlanDeepResearch", mock.Anything, mock.Anything).Return(
		activities.PlanDeepResearchResult{Subtopics: []activities.Subtopic{
			{Name: "Lead A", Description: "first"},
			{Name: "Lead B", Description: "second"},
		}}, nil)
	deepQueries := 0
	env.OnActivity("GenerateDeepQueries", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateDeepQueriesInput) (activities.GenerateDeepQueriesResult, error) {
			deepQueries++
			return activities.GenerateDeepQueriesResult{
				Providers: []run.ProviderKind{run.ProviderWeb},
				QueriesByProvider: map[run.ProviderKind][]string{
					run.ProviderWeb: {in.Subtopic.Name + " query"},
				},
			}, nil
		})
	env.OnActivity("SynthesizeSubsection", mock.Anything, mock.Anything).Return(
		activities.SynthesizeSubsectionResult{Content: "### Lead\n\nDetail."}, nil)

	cfg := testConfig()
	cfg.EnableDeepResearch = true
	cfg.DeepResearchDepth = 2
	cfg.DeepResearchBreadth = 1
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-6",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// breadth^depth = 1, so a single follow-up search in total.
	assert.Equal(t, 1, deepQueries)
	env.AssertNumberOfCalls(t, "PlanDeepResearch", 1)
}

func TestResearchRunWorkflowDisablesEmptyLocalIndex(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)
	env.OnActivity("ListLocalDocuments", mock.Anything).Return(
		activities.ListLocalDocumentsResult{}, nil)

	var planInput activities.GeneratePlanInput
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GeneratePlanInput) (activities.GeneratePlanResult, error) {
			planInput = in
			return activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil
		})

	cfg := testConfig()
	cfg.AvailableSearchProviders = []run.ProviderKind{run.ProviderWeb, run.ProviderLocal}
	cfg.DefaultSearchProvider = run.ProviderLocal
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-7",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	env.AssertNumberOfCalls(t, "ListLocalDocuments", 1)
	assert.Equal(t, []run.ProviderKind{run.ProviderWeb}, planInput.Config.AvailableSearchProviders)
	assert.Equal(t, run.ProviderWeb, planInput.Config.DefaultSearchProvider)
}

func TestResearchRunWorkflowQuestionTopicWritesIntroFirst(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionQueries(env)
	mockSectionPipeline(env)

	var planInput activities.GeneratePlanInput
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GeneratePlanInput) (activities.GeneratePlanResult, error) {
			planInput = in
			return activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil
		})

	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-5",
		Topic:  "Are solid state batteries commercially viable?",
		Config: testConfig(),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.True(t, planInput.IsQuestion)
	assert.Equal(t, "Opening paragraph.", planInput.Introduction)
	env.AssertNumberOfCalls(t, "WriteIntroduction", 1)
}

func TestResearchRunWorkflowPartialResults(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil)
	env.OnActivity("GenerateSectionQueries", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateSectionQueriesInput) (activities.GenerateSectionQueriesResult, error) {
			if in.Section.Name == "Applications" {
				return activities.GenerateSectionQueriesResult{}, temporal.NewNonRetryableApplicationError(
					"model unavailable", "ProviderError", errors.New("model unavailable"))
			}
			return activities.GenerateSectionQueriesResult{
				Providers:         []run.ProviderKind{run.ProviderWeb},
				QueriesByProvider: map[run.ProviderKind][]string{run.ProviderWeb: {"q"}},
			}, nil
		})

	cfg := testConfig()
	cfg.PartialResults = true
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-6",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, []string{"Background"}, result.Sections)
	assert.Equal(t, []string{"Applications"}, result.FailedSections)
	assert.NotContains(t, result.Report, "## Applications")
}

func TestResearchRunWorkflowAllSectionsFailedErrors(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	mockPersistence(env)
	mockSectionPipeline(env)
	env.OnActivity("GeneratePlan", mock.Anything, mock.Anything).Return(
		activities.GeneratePlanResult{Plan: twoSectionPlan()}, nil)
	env.OnActivity("GenerateSectionQueries", mock.Anything, mock.Anything).Return(
		activities.GenerateSectionQueriesResult{}, temporal.NewNonRetryableApplicationError(
			"model unavailable", "ProviderError", errors.New("model unavailable")))

	cfg := testConfig()
	cfg.PartialResults = true
	env.ExecuteWorkflow(ResearchRunWorkflow, RunInput{
		RunID:  "run-7",
		Topic:  "Solid state batteries",
		Config: cfg,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
