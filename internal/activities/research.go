package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/metrics"
	"github.com/openreport-ai/orchestrator/internal/providers/llm"
	"github.com/openreport-ai/orchestrator/internal/providers/search"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// completeText runs one completion and meters its token usage per role.
func (a *Activities) completeText(ctx context.Context, role string, model config.ModelSelection, system, user string) (string, error) {
	resp, err := a.llm.Complete(ctx, llm.SystemUser(model, system, user))
	if err != nil {
		return "", err
	}
	metrics.LLMTokensUsed.WithLabelValues(role).Add(float64(resp.InputTokens + resp.OutputTokens))
	return resp.Content, nil
}

// queryList parses the {"queries": [...]} shape every query prompt asks for.
func (a *Activities) queryList(ctx context.Context, role string, model config.ModelSelection, system, user string) ([]string, error) {
	content, err := a.completeText(ctx, role, model, system, user)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse query list: %w", err)
	}
	out := make([]string, 0, len(parsed.Queries))
	for _, q := range parsed.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no usable queries")
	}
	return out, nil
}

// resolveSectionProviders filters a section's requested providers down to
// the run's available set, falling back to the default.
func resolveSectionProviders(section run.Section, cfg config.RunConfig) []run.ProviderKind {
	providers := run.FilterProviderKinds(section.SearchOptions, cfg.AvailableSearchProviders)
	if len(providers) == 0 {
		providers = []run.ProviderKind{cfg.DefaultSearchProvider}
	}
	return providers
}

// deepResearchProviders resolves the provider set used by deep research
// rounds.
func deepResearchProviders(cfg config.RunConfig) []run.ProviderKind {
	providers := run.FilterProviderKinds(cfg.DeepResearchProviders, cfg.AvailableSearchProviders)
	if len(providers) == 0 {
		providers = []run.ProviderKind{cfg.DefaultSearchProvider}
	}
	return providers
}

// GeneratePlanInput drives initial planning and feedback revisions alike:
// a non-empty Feedback means the previous plan was rejected.
type GeneratePlanInput struct {
	RunID        string           `json:"run_id"`
	Topic        string           `json:"topic"`
	IsQuestion   bool             `json:"is_question"`
	Feedback     string           `json:"feedback,omitempty"`
	Introduction string           `json:"introduction,omitempty"`
	Config       config.RunConfig `json:"config"`
}

type GeneratePlanResult struct {
	Plan      run.ReportPlan `json:"plan"`
	Citations []run.Citation `json:"citations,omitempty"`
}

// GeneratePlan gathers planning context with a search pass, then asks the
// planner model for a section list.
func (a *Activities) GeneratePlan(ctx context.Context, in GeneratePlanInput) (GeneratePlanResult, error) {
	cfg := in.Config

	queries, err := a.queryList(ctx, "writer", cfg.WriterModel,
		planningQueriesPrompt(in.Topic, cfg.ReportStructure, cfg.NumberOfQueries, cfg.PlanningSearchProvider, cfg.Language),
		"Generate search queries that will help with planning the sections of the report.")
	if err != nil {
		return GeneratePlanResult{}, &run.PlanningError{Reason: "query generation failed", Cause: err}
	}

	findings, err := a.registry.Search(ctx, search.Request{
		Kind:               cfg.PlanningSearchProvider,
		Queries:            queries,
		Settings:           cfg.Search,
		MaxTokensPerSource: cfg.MaxTokensPerSource,
		RequestDelay:       cfg.RequestDelay(),
	})
	if err != nil {
		return GeneratePlanResult{}, &run.PlanningError{Reason: "planning search failed", Cause: err}
	}

	planContext := search.FormatFindings(findings)
	if in.Introduction != "" {
		planContext += "\n\nINTRODUCTION:\n" + in.Introduction
	}

	content, err := a.completeText(ctx, "planner", cfg.PlannerModel,
		plannerPrompt(in.Topic, cfg.ReportStructure, planContext, in.Feedback, cfg.AvailableSearchProviders, in.IsQuestion, cfg.Language),
		"Generate the sections of the report. Your response must include a 'sections' field containing a list of sections.")
	if err != nil {
		return GeneratePlanResult{}, &run.PlanningError{Reason: "planner call failed", Cause: err}
	}

	var parsed struct {
		Sections []rawSection `json:"sections"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return GeneratePlanResult{}, &run.PlanningError{Reason: "malformed planner output", Cause: err}
	}

	plan, err := buildPlan(parsed.Sections, cfg)
	if err != nil {
		return GeneratePlanResult{}, err
	}

	a.logger.Info("Report plan generated",
		zap.String("run_id", in.RunID),
		zap.Int("sections", len(plan.Sections)),
		zap.Bool("revision", in.Feedback != ""))
	revision := "initial"
	if in.Feedback != "" {
		revision = "feedback"
	}
	metrics.PlansGenerated.WithLabelValues(revision).Inc()

	return GeneratePlanResult{
		Plan:      plan,
		Citations: search.ExtractCitations(findings),
	}, nil
}

type rawSection struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SearchOptions []string `json:"search_options"`
}

func buildPlan(sections []rawSection, cfg config.RunConfig) (run.ReportPlan, error) {
	var plan run.ReportPlan
	seen := make(map[string]struct{}, len(sections))
	for _, raw := range sections {
		name := strings.TrimSpace(raw.Name)
		lower := strings.ToLower(name)
		// The planner is told not to emit these; drop them if it does.
		if lower == "introduction" || lower == "conclusion" {
			continue
		}
		if name == "" {
			return run.ReportPlan{}, &run.PlanningError{Reason: "section with empty name"}
		}
		if strings.TrimSpace(raw.Description) == "" {
			return run.ReportPlan{}, &run.PlanningError{Reason: fmt.Sprintf("section %q has no description", name)}
		}
		if _, dup := seen[lower]; dup {
			return run.ReportPlan{}, &run.PlanningError{Reason: fmt.Sprintf("duplicate section %q", name)}
		}
		seen[lower] = struct{}{}

		options := make([]run.ProviderKind, 0, len(raw.SearchOptions))
		for _, o := range raw.SearchOptions {
			kind := run.ProviderKind(strings.ToLower(strings.TrimSpace(o)))
			if run.ValidProviderKind(kind) {
				options = append(options, kind)
			}
		}
		options = run.FilterProviderKinds(options, cfg.AvailableSearchProviders)
		if len(options) == 0 {
			options = []run.ProviderKind{cfg.DefaultSearchProvider}
		}

		plan.Sections = append(plan.Sections, run.Section{
			Name:          name,
			Description:   strings.TrimSpace(raw.Description),
			SearchOptions: options,
		})
		if len(plan.Sections) == cfg.MaxSections {
			break
		}
	}
	if len(plan.Sections) == 0 {
		return run.ReportPlan{}, &run.PlanningError{Reason: "planner produced no sections"}
	}
	return plan, nil
}

// GenerateSectionQueriesInput produces per-provider query batches for one
// section.
type GenerateSectionQueriesInput struct {
	Topic   string           `json:"topic"`
	Section run.Section      `json:"section"`
	Config  config.RunConfig `json:"config"`
}

type GenerateSectionQueriesResult struct {
	Providers         []run.ProviderKind            `json:"providers"`
	QueriesByProvider map[run.ProviderKind][]string `json:"queries_by_provider"`
}

func (a *Activities) GenerateSectionQueries(ctx context.Context, in GenerateSectionQueriesInput) (GenerateSectionQueriesResult, error) {
	cfg := in.Config
	providers := resolveSectionProviders(in.Section, cfg)

	result := GenerateSectionQueriesResult{
		Providers:         providers,
		QueriesByProvider: make(map[run.ProviderKind][]string, len(providers)),
	}
	for _, provider := range providers {
		queries, err := a.queryList(ctx, "writer", cfg.WriterModel,
			sectionQueriesPrompt(in.Topic, in.Section.Description, provider, cfg.NumberOfQueries, cfg.Language),
			fmt.Sprintf("Generate search queries optimized for %s search on the provided topic.", provider))
		if err != nil {
			return GenerateSectionQueriesResult{}, err
		}
		result.QueriesByProvider[provider] = queries
	}
	return result, nil
}

// ExecuteSearchInput fans query batches out to their providers. Provider
// failures are soft: the failing provider contributes nothing, and the
// call only errors when every provider failed.
type ExecuteSearchInput struct {
	RunID             string                        `json:"run_id"`
	Providers         []run.ProviderKind            `json:"providers"`
	QueriesByProvider map[run.ProviderKind][]string `json:"queries_by_provider"`
	Config            config.RunConfig              `json:"config"`
}

type ExecuteSearchResult struct {
	Findings      []run.SearchFinding `json:"findings"`
	SourceContext string              `json:"source_context"`
	Citations     []run.Citation      `json:"citations,omitempty"`
}

func (a *Activities) ExecuteSearch(ctx context.Context, in ExecuteSearchInput) (ExecuteSearchResult, error) {
	cfg := in.Config

	var all []run.SearchFinding
	var blocks []string
	var lastErr error
	failures := 0
	for _, provider := range in.Providers {
		queries := in.QueriesByProvider[provider]
		if len(queries) == 0 {
			continue
		}
		findings, err := a.registry.Search(ctx, search.Request{
			Kind:               provider,
			Queries:            queries,
			Settings:           cfg.Search,
			MaxTokensPerSource: cfg.MaxTokensPerSource,
			RequestDelay:       cfg.RequestDelay(),
		})
		if err != nil {
			failures++
			lastErr = err
			a.logger.Warn("Search provider failed, continuing without it",
				zap.String("run_id", in.RunID),
				zap.String("provider", string(provider)),
				zap.Error(err))
			blocks = append(blocks, fmt.Sprintf("=== %s SEARCH ERROR ===\n%v",
				strings.ToUpper(string(provider)), err))
			continue
		}
		all = append(all, findings...)
		blocks = append(blocks, fmt.Sprintf("=== %s SEARCH RESULTS ===\n%s",
			strings.ToUpper(string(provider)), search.FormatFindings(findings)))
	}

	if len(all) == 0 && failures > 0 && failures == len(in.Providers) {
		return ExecuteSearchResult{}, fmt.Errorf("all search providers failed: %w", lastErr)
	}
	return ExecuteSearchResult{
		Findings:      all,
		SourceContext: strings.Join(blocks, "\n\n"),
		Citations:     search.ExtractCitations(all),
	}, nil
}

// SynthesizeSectionInput writes (or rewrites) one section from gathered
// sources.
type SynthesizeSectionInput struct {
	Topic           string           `json:"topic"`
	SectionName     string           `json:"section_name"`
	SectionTopic    string           `json:"section_topic"`
	ExistingContent string           `json:"existing_content,omitempty"`
	SourceContext   string           `json:"source_context"`
	Config          config.RunConfig `json:"config"`
}

type SynthesizeSectionResult struct {
	Content string `json:"content"`
}

func (a *Activities) SynthesizeSection(ctx context.Context, in SynthesizeSectionInput) (SynthesizeSectionResult, error) {
	cfg := in.Config
	content, err := a.completeText(ctx, "writer", cfg.WriterModel,
		sectionWriterPrompt(cfg.MaxSectionWords)+languageSuffix(cfg.Language),
		sectionWriterInputs(in.Topic, in.SectionName, in.SectionTopic, in.ExistingContent, in.SourceContext))
	if err != nil {
		return SynthesizeSectionResult{}, err
	}
	return SynthesizeSectionResult{Content: strings.TrimSpace(content)}, nil
}

// GradeSectionInput asks the planner model to accept a section or supply
// follow-up queries.
type GradeSectionInput struct {
	Topic        string           `json:"topic"`
	SectionTopic string           `json:"section_topic"`
	Content      string           `json:"content"`
	Config       config.RunConfig `json:"config"`
}

type GradeSectionResult struct {
	Pass            bool     `json:"pass"`
	FollowUpQueries []string `json:"follow_up_queries,omitempty"`
}

func (a *Activities) GradeSection(ctx context.Context, in GradeSectionInput) (GradeSectionResult, error) {
	cfg := in.Config
	content, err := a.completeText(ctx, "planner", cfg.PlannerModel,
		sectionGraderPrompt(in.Topic, in.SectionTopic, in.Content, cfg.NumberOfQueries),
		"Grade the report section and consider follow-up queries for missing information.")
	if err != nil {
		return GradeSectionResult{}, err
	}
	var parsed struct {
		Grade           string   `json:"grade"`
		FollowUpQueries []string `json:"follow_up_queries"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		// An unreadable grade accepts the section rather than looping.
		a.logger.Warn("Failed to parse section grade, accepting section", zap.Error(err))
		return GradeSectionResult{Pass: true}, nil
	}
	pass := strings.EqualFold(strings.TrimSpace(parsed.Grade), "pass")
	queries := make([]string, 0, len(parsed.FollowUpQueries))
	for _, q := range parsed.FollowUpQueries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if !pass && len(queries) == 0 {
		// A fail without queries cannot make progress; treat as pass.
		pass = true
	}
	return GradeSectionResult{Pass: pass, FollowUpQueries: queries}, nil
}

// Subtopic is one deep-research lead inside a section.
type Subtopic struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PlanDeepResearchInput identifies subtopics worth another research round.
type PlanDeepResearchInput struct {
	Topic          string           `json:"topic"`
	SectionName    string           `json:"section_name"`
	SectionContent string           `json:"section_content"`
	CurrentDepth   int              `json:"current_depth"`
	Config         config.RunConfig `json:"config"`
}

type PlanDeepResearchResult struct {
	Subtopics []Subtopic `json:"subtopics"`
}

func (a *Activities) PlanDeepResearch(ctx context.Context, in PlanDeepResearchInput) (PlanDeepResearchResult, error) {
	cfg := in.Config
	providers := deepResearchProviders(cfg)
	content, err := a.completeText(ctx, "planner", cfg.PlannerModel,
		deepResearchPlannerPrompt(in.Topic, in.SectionName, in.SectionContent, in.CurrentDepth, cfg.DeepResearchBreadth, providers, cfg.Language),
		"Identify the subtopics worth exploring based on the section content.")
	if err != nil {
		return PlanDeepResearchResult{}, err
	}
	var parsed struct {
		Subtopics []Subtopic `json:"subtopics"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return PlanDeepResearchResult{}, fmt.Errorf("failed to parse subtopics: %w", err)
	}
	subtopics := make([]Subtopic, 0, cfg.DeepResearchBreadth)
	for _, st := range parsed.Subtopics {
		if strings.TrimSpace(st.Name) == "" {
			continue
		}
		subtopics = append(subtopics, st)
		if len(subtopics) == cfg.DeepResearchBreadth {
			break
		}
	}
	metrics.DeepResearchExpansions.Add(float64(len(subtopics)))
	return PlanDeepResearchResult{Subtopics: subtopics}, nil
}

// GenerateDeepQueriesInput produces queries for one subtopic across the
// deep-research provider set.
type GenerateDeepQueriesInput struct {
	Topic       string           `json:"topic"`
	SectionName string           `json:"section_name"`
	Subtopic    Subtopic         `json:"subtopic"`
	Config      config.RunConfig `json:"config"`
}

type GenerateDeepQueriesResult struct {
	Providers         []run.ProviderKind            `json:"providers"`
	QueriesByProvider map[run.ProviderKind][]string `json:"queries_by_provider"`
}

func (a *Activities) GenerateDeepQueries(ctx context.Context, in GenerateDeepQueriesInput) (GenerateDeepQueriesResult, error) {
	cfg := in.Config
	providers := deepResearchProviders(cfg)
	result := GenerateDeepQueriesResult{
		Providers:         providers,
		QueriesByProvider: make(map[run.ProviderKind][]string, len(providers)),
	}
	for _, provider := range providers {
		queries, err := a.queryList(ctx, "writer", cfg.WriterModel,
			deepResearchQueriesPrompt(in.Topic, in.SectionName, in.Subtopic.Name, in.Subtopic.Description, provider, cfg.NumberOfQueries, cfg.Language),
			fmt.Sprintf("Generate %s search queries for this subtopic.", provider))
		if err != nil {
			return GenerateDeepQueriesResult{}, err
		}
		result.QueriesByProvider[provider] = queries
	}
	return result, nil
}

// SynthesizeSubsectionInput writes one deep-research subsection.
type SynthesizeSubsectionInput struct {
	Topic         string           `json:"topic"`
	SectionName   string           `json:"section_name"`
	Subtopic      string           `json:"subtopic"`
	SourceContext string           `json:"source_context"`
	Config        config.RunConfig `json:"config"`
}

type SynthesizeSubsectionResult struct {
	Content string `json:"content"`
}

func (a *Activities) SynthesizeSubsection(ctx context.Context, in SynthesizeSubsectionInput) (SynthesizeSubsectionResult, error) {
	cfg := in.Config
	content, err := a.completeText(ctx, "writer", cfg.WriterModel,
		deepResearchWriterPrompt(in.Topic, in.SectionName, in.Subtopic, in.SourceContext, cfg.MaxSubsectionWords, cfg.Language),
		"Write the subsection based on the search results.")
	if err != nil {
		return SynthesizeSubsectionResult{}, err
	}
	return SynthesizeSubsectionResult{Content: strings.TrimSpace(content)}, nil
}

// WriteIntroductionInput runs the introduction's own search pass and
// writes the opening of the report.
type WriteIntroductionInput struct {
	RunID  string           `json:"run_id"`
	Topic  string           `json:"topic"`
	Config config.RunConfig `json:"config"`
}

type WriteIntroductionResult struct {
	Introduction string         `json:"introduction"`
	Citations    []run.Citation `json:"citations,omitempty"`
}

func (a *Activities) WriteIntroduction(ctx context.Context, in WriteIntroductionInput) (WriteIntroductionResult, error) {
	cfg := in.Config

	queries, err := a.queryList(ctx, "writer", cfg.WriterModel,
		introductionQueriesPrompt(in.Topic, cfg.NumberOfQueries, cfg.IntroductionSearchProvider, cfg.Language),
		"Generate search queries that will help with writing an introduction for the report.")
	if err != nil {
		return WriteIntroductionResult{}, &run.SynthesisError{Stage: "introduction", Cause: err}
	}

	findings, err := a.registry.Search(ctx, search.Request{
		Kind:               cfg.IntroductionSearchProvider,
		Queries:            queries,
		Settings:           cfg.Search,
		MaxTokensPerSource: cfg.MaxTokensPerSource,
		RequestDelay:       cfg.RequestDelay(),
	})
	if err != nil {
		return WriteIntroductionResult{}, &run.SynthesisError{Stage: "introduction", Cause: err}
	}

	content, err := a.completeText(ctx, "writer", cfg.WriterModel,
		introductionWriterPrompt(in.Topic, search.FormatFindings(findings), cfg.MaxIntroductionWords, cfg.Language),
		"Write an introduction for the report based on the provided sources.")
	if err != nil {
		return WriteIntroductionResult{}, &run.SynthesisError{Stage: "introduction", Cause: err}
	}
	return WriteIntroductionResult{
		Introduction: strings.TrimSpace(content),
		Citations:    search.ExtractCitations(findings),
	}, nil
}

// WriteConclusionInput synthesizes the closing from completed sections
// only; conclusions never trigger new searches.
type WriteConclusionInput struct {
	RunID           string           `json:"run_id"`
	Topic           string           `json:"topic"`
	IsQuestion      bool             `json:"is_question"`
	SectionsContext string           `json:"sections_context"`
	Config          config.RunConfig `json:"config"`
}

type WriteConclusionResult struct {
	Conclusion string `json:"conclusion"`
}

func (a *Activities) WriteConclusion(ctx context.Context, in WriteConclusionInput) (WriteConclusionResult, error) {
	cfg := in.Config
	if strings.TrimSpace(in.SectionsContext) == "" {
		return WriteConclusionResult{}, &run.SynthesisError{
			Stage: "conclusion",
			Cause: fmt.Errorf("no completed sections to conclude from"),
		}
	}
	content, err := a.completeText(ctx, "conclusion", cfg.ConclusionModel,
		conclusionWriterPrompt(in.Topic, in.IsQuestion, in.SectionsContext, cfg.MaxConclusionWords, cfg.Language),
		"Write a conclusion for this report based on the provided sections.")
	if err != nil {
		return WriteConclusionResult{}, &run.SynthesisError{Stage: "conclusion", Cause: err}
	}
	return WriteConclusionResult{Conclusion: strings.TrimSpace(content)}, nil
}
