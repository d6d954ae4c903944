package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/providers/llm"
	"github.com/openreport-ai/orchestrator/internal/providers/search"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// scriptedLLM returns canned completions in order and records the
// requests it saw.
type scriptedLLM struct {
	responses []string
	calls     []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.calls = append(s.calls, req)
	if len(s.responses) == 0 {
		return llm.Response{}, errors.New("scripted client exhausted")
	}
	content := s.responses[0]
	s.responses = s.responses[1:]
	return llm.Response{Content: content, InputTokens: 10, OutputTokens: 20}, nil
}

type fakeProvider struct {
	kind     run.ProviderKind
	findings []run.SearchFinding
	err      error
}

func (p *fakeProvider) Kind() run.ProviderKind { return p.kind }

func (p *fakeProvider) Search(context.Context, string, config.SearchSettings) ([]run.SearchFinding, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.findings, nil
}

func newTestActivities(t *testing.T, client llm.Client, providers ...search.Provider) *Activities {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := search.NewRegistry(logger)
	for _, p := range providers {
		registry.Register(p)
	}
	return NewActivities(nil, nil, registry, client, nil, logger)
}

func testRunConfig() config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.RequestDelaySeconds = 0
	return cfg
}

func webFinding(id, title, url string) run.SearchFinding {
	return run.SearchFinding{SourceID: id, Title: title, URL: url, Content: "body", Provider: run.ProviderWeb}
}

func TestGeneratePlan(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"queries": ["quantum computing overview", "quantum hardware 2026"]}`,
		"```json\n{\"sections\": [" +
			"{\"name\": \"Introduction\", \"description\": \"opening\", \"search_options\": [\"web\"]}," +
			"{\"name\": \"Hardware\", \"description\": \"Qubit platforms\", \"search_options\": [\"web\", \"bogus\"]}," +
			"{\"name\": \"Algorithms\", \"description\": \"Known speedups\", \"search_options\": []}" +
			"]}\n```",
	}}
	provider := &fakeProvider{kind: run.ProviderWeb, findings: []run.SearchFinding{
		webFinding("w1", "Survey", "https://example.com/survey"),
	}}
	a := newTestActivities(t, client, provider)

	cfg := testRunConfig()
	result, err := a.GeneratePlan(context.Background(), GeneratePlanInput{
		RunID:  "run-1",
		Topic:  "Quantum computing",
		Config: cfg,
	})
	require.NoError(t, err)

	require.Len(t, result.Plan.Sections, 2)
	assert.Equal(t, "Hardware", result.Plan.Sections[0].Name)
	assert.Equal(t, []run.ProviderKind{run.ProviderWeb}, result.Plan.Sections[0].SearchOptions)
	assert.Equal(t, "Algorithms", result.Plan.Sections[1].Name)
	assert.Equal(t, []run.ProviderKind{cfg.DefaultSearchProvider}, result.Plan.Sections[1].SearchOptions)

	require.Len(t, result.Citations, 1)
	assert.Equal(t, "https://example.com/survey", result.Citations[0].URL)
	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[1].Messages[0].Content, "Quantum computing")
}

func TestGeneratePlanCapsSections(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"queries": ["q"]}`,
		`{"sections": [
			{"name": "A", "description": "a", "search_options": ["web"]},
			{"name": "B", "description": "b", "search_options": ["web"]},
			{"name": "C", "description": "c", "search_options": ["web"]}
		]}`,
	}}
	a := newTestActivities(t, client, &fakeProvider{kind: run.ProviderWeb})

	cfg := testRunConfig()
	cfg.MaxSections = 2
	result, err := a.GeneratePlan(context.Background(), GeneratePlanInput{Topic: "t", Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, result.Plan.SectionNames())
}

func TestGeneratePlanEmptyPlanFails(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"queries": ["q"]}`,
		`{"sections": [{"name": "Conclusion", "description": "end", "search_options": ["web"]}]}`,
	}}
	a := newTestActivities(t, client, &fakeProvider{kind: run.ProviderWeb})

	_, err := a.GeneratePlan(context.Background(), GeneratePlanInput{Topic: "t", Config: testRunConfig()})
	var planErr *run.PlanningError
	require.ErrorAs(t, err, &planErr)
}

func TestGeneratePlanDuplicateSectionFails(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"queries": ["q"]}`,
		`{"sections": [
			{"name": "Hardware", "description": "a", "search_options": ["web"]},
			{"name": "hardware", "description": "b", "search_options": ["web"]}
		]}`,
	}}
	a := newTestActivities(t, client, &fakeProvider{kind: run.ProviderWeb})

	_, err := a.GeneratePlan(context.Background(), GeneratePlanInput{Topic: "t", Config: testRunConfig()})
	var planErr *run.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Contains(t, planErr.Reason, "duplicate")
}

func TestGenerateSectionQueriesFallsBackToDefault(t *testing.T) {
	client := &scriptedLLM{responses: []string{`{"queries": ["one", "two"]}`}}
	a := newTestActivities(t, client, &fakeProvider{kind: run.ProviderWeb})

	cfg := testRunConfig()
	result, err := a.GenerateSectionQueries(context.Background(), GenerateSectionQueriesInput{
		Topic: "t",
		Section: run.Section{
			Name:          "Methods",
			Description:   "methodology",
			SearchOptions: []run.ProviderKind{run.ProviderPatent},
		},
		Config: cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, []run.ProviderKind{cfg.DefaultSearchProvider}, result.Providers)
	assert.Equal(t, []string{"one", "two"}, result.QueriesByProvider[cfg.DefaultSearchProvider])
}

func TestExecuteSearchSoftFailure(t *testing.T) {
	web := &fakeProvider{kind: run.ProviderWeb, findings: []run.SearchFinding{
		webFinding("w1", "Good", "https://example.com/good"),
	}}
	academic := &fakeProvider{kind: run.ProviderAcademic, err: &run.ProviderError{
		Provider: "academic", Soft: true, Cause: errors.New("upstream 503"),
	}}
	a := newTestActivities(t, &scriptedLLM{}, web, academic)

	result, err := a.ExecuteSearch(context.Background(), ExecuteSearchInput{
		RunID:     "run-1",
		Providers: []run.ProviderKind{run.ProviderWeb, run.ProviderAcademic},
		QueriesByProvider: map[run.ProviderKind][]string{
			run.ProviderWeb:      {"q1"},
			run.ProviderAcademic: {"q2"},
		},
		Config: testRunConfig(),
	})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.SourceContext, "=== WEB SEARCH RESULTS ===")
	assert.Contains(t, result.SourceContext, "=== ACADEMIC SEARCH ERROR ===")
	require.Len(t, result.Citations, 1)
}

func TestExecuteSearchAllProvidersFailed(t *testing.T) {
	web := &fakeProvider{kind: run.ProviderWeb, err: errors.New("down")}
	a := newTestActivities(t, &scriptedLLM{}, web)

	_, err := a.ExecuteSearch(context.Background(), ExecuteSearchInput{
		Providers:         []run.ProviderKind{run.ProviderWeb},
		QueriesByProvider: map[run.ProviderKind][]string{run.ProviderWeb: {"q"}},
		Config:            testRunConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all search providers failed")
}

func TestListLocalDocumentsWithoutIndex(t *testing.T) {
	a := newTestActivities(t, &scriptedLLM{})
	result, err := a.ListLocalDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.Zero(t, result.Chunks)
}

func TestGradeSection(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantPass  bool
		wantQuery int
	}{
		{"pass", `{"grade": "pass", "follow_up_queries": []}`, true, 0},
		{"fail with queries", `{"grade": "fail", "follow_up_queries": ["missing detail", " "]}`, false, 1},
		{"fail without queries passes", `{"grade": "fail", "follow_up_queries": []}`, true, 0},
		{"unparseable passes", "the section looks fine to me", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestActivities(t, &scriptedLLM{responses: []string{tt.response}})
			result, err := a.GradeSection(context.Background(), GradeSectionInput{
				Topic:        "t",
				SectionTopic: "s",
				Content:      "content",
				Config:       testRunConfig(),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, result.Pass)
			assert.Len(t, result.FollowUpQueries, tt.wantQuery)
		})
	}
}

func TestPlanDeepResearchCapsBreadth(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"subtopics": [
			{"name": "One", "description": "d1"},
			{"name": "", "description": "dropped"},
			{"name": "Two", "description": "d2"},
			{"name": "Three", "description": "d3"}
		]}`,
	}}
	a := newTestActivities(t, client)

	cfg := testRunConfig()
	cfg.DeepResearchBreadth = 2
	result, err := a.PlanDeepResearch(context.Background(), PlanDeepResearchInput{
		Topic:          "t",
		SectionName:    "Hardware",
		SectionContent: "content",
		CurrentDepth:   1,
		Config:         cfg,
	})
	require.NoError(t, err)
	require.Len(t, result.Subtopics, 2)
	assert.Equal(t, "One", result.Subtopics[0].Name)
	assert.Equal(t, "Two", result.Subtopics[1].Name)
}

func TestSynthesizeSectionTrimsOutput(t *testing.T) {
	client := &scriptedLLM{responses: []string{"\n\n## Hardware\n\nBody text.\n"}}
	a := newTestActivities(t, client)

	result, err := a.SynthesizeSection(context.Background(), SynthesizeSectionInput{
		Topic:         "t",
		SectionName:   "Hardware",
		SectionTopic:  "qubits",
		SourceContext: "sources",
		Config:        testRunConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "## Hardware\n\nBody text.", result.Content)
}

func TestWriteIntroduction(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"queries": ["background"]}`,
		"# Report\n\nOpening paragraph.",
	}}
	provider := &fakeProvider{kind: run.ProviderWeb, findings: []run.SearchFinding{
		webFinding("w1", "Background", "https://example.com/bg"),
	}}
	a := newTestActivities(t, client, provider)

	result, err := a.WriteIntroduction(context.Background(), WriteIntroductionInput{
		RunID:  "run-1",
		Topic:  "t",
		Config: testRunConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "# Report\n\nOpening paragraph.", result.Introduction)
	require.Len(t, result.Citations, 1)
}

func TestWriteConclusionRequiresSections(t *testing.T) {
	a := newTestActivities(t, &scriptedLLM{})

	_, err := a.WriteConclusion(context.Background(), WriteConclusionInput{
		RunID:  "run-1",
		Topic:  "t",
		Config: testRunConfig(),
	})
	var synthErr *run.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "conclusion", synthErr.Stage)
}

func TestWriteConclusion(t *testing.T) {
	client := &scriptedLLM{responses: []string{"## Conclusion body"}}
	a := newTestActivities(t, client)

	result, err := a.WriteConclusion(context.Background(), WriteConclusionInput{
		RunID:           "run-1",
		Topic:           "Is fusion viable?",
		IsQuestion:      true,
		SectionsContext: "section text",
		Config:          testRunConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "## Conclusion body", result.Conclusion)
	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0].Messages[0].Content, "direct answer")
}

func TestGenerateDeepQueries(t *testing.T) {
	client := &scriptedLLM{responses: []string{`{"queries": ["deep q1", "deep q2"]}`}}
	a := newTestActivities(t, client)

	cfg := testRunConfig()
	result, err := a.GenerateDeepQueries(context.Background(), GenerateDeepQueriesInput{
		Topic:       "t",
		SectionName: "Hardware",
		Subtopic:    Subtopic{Name: "Error correction", Description: "codes"},
		Config:      cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, []run.ProviderKind{run.ProviderWeb}, result.Providers)
	assert.Equal(t, []string{"deep q1", "deep q2"}, result.QueriesByProvider[run.ProviderWeb])
}
