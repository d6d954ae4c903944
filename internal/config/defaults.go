package config

import "time"

// Default report structure given to the planner model. Introduction and
// conclusion are written separately and must not appear in the plan.
const DefaultReportStructure = `Use this structure to create a report on the user-provided topic:
Main Body Sections:
   - Each section should focus on a sub-topic of the user-provided topic
   - if user provided a question, you should make critical sections to answer the question
   - Do not include introduction or conclusion
`

// Run defaults. Every tunable has an explicit named constant here; a run
// snapshots these (plus caller overrides) at creation and is never affected
// by later changes.
const (
	DefaultNumberOfQueries    = 2
	DefaultMaxReflection      = 2
	DefaultMaxSections        = 5
	DefaultRequestDelay       = 1 * time.Second
	DefaultMaxTokensPerSource = 1024

	DefaultMaxSectionWords      = 1000
	DefaultMaxSubsectionWords   = 500
	DefaultMaxIntroductionWords = 500
	DefaultMaxConclusionWords   = 500

	DefaultEnableDeepResearch  = true
	DefaultDeepResearchDepth   = 1
	DefaultDeepResearchBreadth = 2

	DefaultSkipHumanFeedback = false

	DefaultLanguage = "english"

	DefaultMaxConcurrentSections = 3
	DefaultPartialResults        = false
)

// Model defaults per role.
const (
	DefaultPlannerProvider = "openai"
	DefaultPlannerModel    = "gpt-4o"

	DefaultWriterProvider = "openai"
	DefaultWriterModel    = "gpt-4o"

	DefaultConclusionProvider = "openai"
	DefaultConclusionModel    = "o3-mini"

	DefaultModelMaxTokens   = 16384
	DefaultModelTemperature = 0.0
)

// Search defaults per provider kind.
const (
	DefaultWebMaxResults   = 5
	DefaultAcademicMaxDocs = 5
	DefaultPatentLimit     = 10
	DefaultLocalTopK       = 5
)
