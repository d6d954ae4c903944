package config

import (
	"fmt"
	"time"

	"github.com/openreport-ai/orchestrator/internal/run"
)

// ModelSelection picks a completion model for one role.
type ModelSelection struct {
	Provider    string  `json:"provider" mapstructure:"provider"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
}

// Per-kind search settings. The set of variants is closed; unknown provider
// settings cannot be smuggled in through an untyped map.
type WebSearchSettings struct {
	MaxResults        int  `json:"max_results" mapstructure:"max_results"`
	IncludeRawContent bool `json:"include_raw_content" mapstructure:"include_raw_content"`
}

type AcademicSearchSettings struct {
	MaxDocs int `json:"max_docs" mapstructure:"max_docs"`
}

type PatentSearchSettings struct {
	Limit int `json:"limit" mapstructure:"limit"`
}

type LocalSearchSettings struct {
	IndexPath string   `json:"index_path,omitempty" mapstructure:"index_path"`
	TopK      int      `json:"top_k" mapstructure:"top_k"`
	Documents []string `json:"documents,omitempty" mapstructure:"documents"`
}

// SearchSettings groups the per-kind variants.
type SearchSettings struct {
	Web      WebSearchSettings      `json:"web" mapstructure:"web"`
	Academic AcademicSearchSettings `json:"academic" mapstructure:"academic"`
	Patent   PatentSearchSettings   `json:"patent" mapstructure:"patent"`
	Local    LocalSearchSettings    `json:"local" mapstructure:"local"`
}

// RunConfig is the frozen snapshot of all tunable parameters for one run.
// It is copied at run creation; later default changes never affect an
// in-flight run.
type RunConfig struct {
	ReportStructure string `json:"report_structure" mapstructure:"report_structure"`

	NumberOfQueries int `json:"number_of_queries" mapstructure:"number_of_queries"`
	MaxReflection   int `json:"max_reflection" mapstructure:"max_reflection"`
	MaxSections     int `json:"max_sections" mapstructure:"max_sections"`

	// Minimum spacing between outbound provider calls, in seconds.
	RequestDelaySeconds float64 `json:"request_delay" mapstructure:"request_delay"`
	MaxTokensPerSource  int     `json:"max_tokens_per_source" mapstructure:"max_tokens_per_source"`

	MaxSectionWords      int `json:"max_section_words" mapstructure:"max_section_words"`
	MaxSubsectionWords   int `json:"max_subsection_words" mapstructure:"max_subsection_words"`
	MaxIntroductionWords int `json:"max_introduction_words" mapstructure:"max_introduction_words"`
	MaxConclusionWords   int `json:"max_conclusion_words" mapstructure:"max_conclusion_words"`

	EnableDeepResearch  bool `json:"enable_deep_research" mapstructure:"enable_deep_research"`
	DeepResearchDepth   int  `json:"deep_research_depth" mapstructure:"deep_research_depth"`
	DeepResearchBreadth int  `json:"deep_research_breadth" mapstructure:"deep_research_breadth"`

	SkipHumanFeedback bool `json:"skip_human_feedback" mapstructure:"skip_human_feedback"`

	PlannerModel    ModelSelection `json:"planner_model" mapstructure:"planner_model"`
	WriterModel     ModelSelection `json:"writer_model" mapstructure:"writer_model"`
	ConclusionModel ModelSelection `json:"conclusion_model" mapstructure:"conclusion_model"`

	PlanningSearchProvider     run.ProviderKind   `json:"planning_search_provider" mapstructure:"planning_search_provider"`
	IntroductionSearchProvider run.ProviderKind   `json:"introduction_search_provider" mapstructure:"introduction_search_provider"`
	DefaultSearchProvider      run.ProviderKind   `json:"default_search_provider" mapstructure:"default_search_provider"`
	AvailableSearchProviders   []run.ProviderKind `json:"available_search_providers" mapstructure:"available_search_providers"`
	DeepResearchProviders      []run.ProviderKind `json:"deep_research_providers" mapstructure:"deep_research_providers"`

	Search SearchSettings `json:"search" mapstructure:"search"`

	Language string `json:"language" mapstructure:"language"`

	MaxConcurrentSections int  `json:"max_concurrent_sections" mapstructure:"max_concurrent_sections"`
	PartialResults        bool `json:"partial_results" mapstructure:"partial_results"`
}

// RequestDelay returns the configured spacing as a duration.
func (c *RunConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds * float64(time.Second))
}

// DefaultRunConfig returns the reviewed defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ReportStructure:     DefaultReportStructure,
		NumberOfQueries:     DefaultNumberOfQueries,
		MaxReflection:       DefaultMaxReflection,
		MaxSections:         DefaultMaxSections,
		RequestDelaySeconds: DefaultRequestDelay.Seconds(),
		MaxTokensPerSource:  DefaultMaxTokensPerSource,

		MaxSectionWords:      DefaultMaxSectionWords,
		MaxSubsectionWords:   DefaultMaxSubsectionWords,
		MaxIntroductionWords: DefaultMaxIntroductionWords,
		MaxConclusionWords:   DefaultMaxConclusionWords,

		EnableDeepResearch:  DefaultEnableDeepResearch,
		DeepResearchDepth:   DefaultDeepResearchDepth,
		DeepResearchBreadth: DefaultDeepResearchBreadth,

		SkipHumanFeedback: DefaultSkipHumanFeedback,

		PlannerModel: ModelSelection{
			Provider:    DefaultPlannerProvider,
			Model:       DefaultPlannerModel,
			MaxTokens:   DefaultModelMaxTokens,
			Temperature: DefaultModelTemperature,
		},
		WriterModel: ModelSelection{
			Provider:    DefaultWriterProvider,
			Model:       DefaultWriterModel,
			MaxTokens:   DefaultModelMaxTokens,
			Temperature: DefaultModelTemperature,
		},
		ConclusionModel: ModelSelection{
			Provider:  DefaultConclusionProvider,
			Model:     DefaultConclusionModel,
			MaxTokens: DefaultModelMaxTokens,
		},

		PlanningSearchProvider:     run.ProviderWeb,
		IntroductionSearchProvider: run.ProviderWeb,
		DefaultSearchProvider:      run.ProviderWeb,
		AvailableSearchProviders:   []run.ProviderKind{run.ProviderWeb},
		DeepResearchProviders:      []run.ProviderKind{run.ProviderWeb},

		Search: SearchSettings{
			Web:      WebSearchSettings{MaxResults: DefaultWebMaxResults},
			Academic: AcademicSearchSettings{MaxDocs: DefaultAcademicMaxDocs},
			Patent:   PatentSearchSettings{Limit: DefaultPatentLimit},
			Local:    LocalSearchSettings{TopK: DefaultLocalTopK},
		},

		Language: DefaultLanguage,

		MaxConcurrentSections: DefaultMaxConcurrentSections,
		PartialResults:        DefaultPartialResults,
	}
}

// Validate checks a snapshot for values the pipeline cannot run with.
func (c *RunConfig) Validate() error {
	if c.NumberOfQueries < 1 {
		return fmt.Errorf("number_of_queries must be >= 1, got %d", c.NumberOfQueries)
	}
	if c.MaxSections < 1 {
		return fmt.Errorf("max_sections must be >= 1, got %d", c.MaxSections)
	}
	if c.MaxReflection < 0 {
		return fmt.Errorf("max_reflection must be >= 0, got %d", c.MaxReflection)
	}
	if c.EnableDeepResearch {
		if c.DeepResearchDepth < 1 {
			return fmt.Errorf("deep_research_depth must be >= 1, got %d", c.DeepResearchDepth)
		}
		if c.DeepResearchBreadth < 1 {
			return fmt.Errorf("deep_research_breadth must be >= 1, got %d", c.DeepResearchBreadth)
		}
	}
	if c.MaxConcurrentSections < 1 {
		return fmt.Errorf("max_concurrent_sections must be >= 1, got %d", c.MaxConcurrentSections)
	}
	if len(c.AvailableSearchProviders) == 0 {
		return fmt.Errorf("available_search_providers must not be empty")
	}
	for _, k := range c.AvailableSearchProviders {
		if !run.ValidProviderKind(k) {
			return fmt.Errorf("unknown search provider %q", k)
		}
	}
	if !run.ValidProviderKind(c.DefaultSearchProvider) {
		return fmt.Errorf("unknown default search provider %q", c.DefaultSearchProvider)
	}
	return nil
}

// RunConfigPatch is a partial override supplied at run creation. Nil fields
// keep the default.
type RunConfigPatch struct {
	ReportStructure *string `json:"report_structure,omitempty"`

	NumberOfQueries *int `json:"number_of_queries,omitempty"`
	MaxReflection   *int `json:"max_reflection,omitempty"`
	MaxSections     *int `json:"max_sections,omitempty"`

	RequestDelaySeconds *float64 `json:"request_delay,omitempty"`
	MaxTokensPerSource  *int     `json:"max_tokens_per_source,omitempty"`

	MaxSectionWords      *int `json:"max_section_words,omitempty"`
	MaxSubsectionWords   *int `json:"max_subsection_words,omitempty"`
	MaxIntroductionWords *int `json:"max_introduction_words,omitempty"`
	MaxConclusionWords   *int `json:"max_conclusion_words,omitempty"`

	EnableDeepResearch  *bool `json:"enable_deep_research,omitempty"`
	DeepResearchDepth   *int  `json:"deep_research_depth,omitempty"`
	DeepResearchBreadth *int  `json:"deep_research_breadth,omitempty"`

	SkipHumanFeedback *bool `json:"skip_human_feedback,omitempty"`

	PlannerModel    *ModelSelection `json:"planner_model,omitempty"`
	WriterModel     *ModelSelection `json:"writer_model,omitempty"`
	ConclusionModel *ModelSelection `json:"conclusion_model,omitempty"`

	PlanningSearchProvider     *run.ProviderKind  `json:"planning_search_provider,omitempty"`
	IntroductionSearchProvider *run.ProviderKind  `json:"introduction_search_provider,omitempty"`
	DefaultSearchProvider      *run.ProviderKind  `json:"default_search_provider,omitempty"`
	AvailableSearchProviders   []run.ProviderKind `json:"available_search_providers,omitempty"`
	DeepResearchProviders      []run.ProviderKind `json:"deep_research_providers,omitempty"`

	Search *SearchSettings `json:"search,omitempty"`

	Language *string `json:"language,omitempty"`

	MaxConcurrentSections *int  `json:"max_concurrent_sections,omitempty"`
	PartialResults        *bool `json:"partial_results,omitempty"`
}

// Snapshot merges a patch onto the defaults and returns the frozen config
// for a new run.
func Snapshot(defaults RunConfig, patch *RunConfigPatch) (RunConfig, error) {
	cfg := defaults
	if patch != nil {
		applyPatch(&cfg, patch)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func applyPatch(cfg *RunConfig, p *RunConfigPatch) {
	if p.ReportStructure != nil {
		cfg.ReportStructure = *p.ReportStructure
	}
	if p.NumberOfQueries != nil {
		cfg.NumberOfQueries = *p.NumberOfQueries
	}
	if p.MaxReflection != nil {
		cfg.MaxReflection = *p.MaxReflection
	}
	if p.MaxSections != nil {
		cfg.MaxSections = *p.MaxSections
	}
	if p.RequestDelaySeconds != nil {
		cfg.RequestDelaySeconds = *p.RequestDelaySeconds
	}
	if p.MaxTokensPerSource != nil {
		cfg.MaxTokensPerSource = *p.MaxTokensPerSource
	}
	if p.MaxSectionWords != nil {
		cfg.MaxSectionWords = *p.MaxSectionWords
	}
	if p.MaxSubsectionWords != nil {
		cfg.MaxSubsectionWords = *p.MaxSubsectionWords
	}
	if p.MaxIntroductionWords != nil {
		cfg.MaxIntroductionWords = *p.MaxIntroductionWords
	}
	if p.MaxConclusionWords != nil {
		cfg.MaxConclusionWords = *p.MaxConclusionWords
	}
	if p.EnableDeepResearch != nil {
		cfg.EnableDeepResearch = *p.EnableDeepResearch
	}
	if p.DeepResearchDepth != nil {
		cfg.DeepResearchDepth = *p.DeepResearchDepth
	}
	if p.DeepResearchBreadth != nil {
		cfg.DeepResearchBreadth = *p.DeepResearchBreadth
	}
	if p.SkipHumanFeedback != nil {
		cfg.SkipHumanFeedback = *p.SkipHumanFeedback
	}
	if p.PlannerModel != nil {
		cfg.PlannerModel = *p.PlannerModel
	}
	if p.WriterModel != nil {
		cfg.WriterModel = *p.WriterModel
	}
	if p.ConclusionModel != nil {
		cfg.ConclusionModel = *p.ConclusionModel
	}
	if p.PlanningSearchProvider != nil {
		cfg.PlanningSearchProvider = *p.PlanningSearchProvider
	}
	if p.IntroductionSearchProvider != nil {
		cfg.IntroductionSearchProvider = *p.IntroductionSearchProvider
	}
	if p.DefaultSearchProvider != nil {
		cfg.DefaultSearchProvider = *p.DefaultSearchProvider
	}
	if len(p.AvailableSearchProviders) > 0 {
		cfg.AvailableSearchProviders = append([]run.ProviderKind(nil), p.AvailableSearchProviders...)
	}
	if len(p.DeepResearchProviders) > 0 {
		cfg.DeepResearchProviders = append([]run.ProviderKind(nil), p.DeepResearchProviders...)
	}
	if p.Search != nil {
		cfg.Search = *p.Search
	}
	if p.Language != nil {
		cfg.Language = *p.Language
	}
	if p.MaxConcurrentSections != nil {
		cfg.MaxConcurrentSections = *p.MaxConcurrentSections
	}
	if p.PartialResults != nil {
		cfg.PartialResults = *p.PartialResults
	}
}
