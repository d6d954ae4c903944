package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run lifecycle
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_runs_completed_total",
			Help: "Total number of research runs reaching a terminal state",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_runs_active",
			Help: "Number of runs currently in a non-terminal state",
		},
	)

	// Planning and feedback
	PlansGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_plans_generated_total",
			Help: "Total report plans generated",
		},
		[]string{"revision"}, // initial | feedback
	)

	FeedbackSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_feedback_submissions_total",
			Help: "Total plan feedback submissions",
		},
		[]string{"outcome"}, // approved | revised
	)

	// Section research
	SectionsResearched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_sections_researched_total",
			Help: "Total sections researched",
		},
		[]string{"status"}, // completed | failed
	)

	SectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_section_duration_seconds",
			Help:    "Per-section research duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	ReflectionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_reflection_rounds",
			Help:    "Reflection rounds used per section",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	DeepResearchExpansions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_deep_research_expansions_total",
			Help: "Total deep research follow-up searches issued",
		},
	)

	// Capability providers
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_provider_calls_total",
			Help: "Outbound search provider calls",
		},
		[]string{"provider", "status"}, // status: ok | error
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_provider_latency_seconds",
			Help:    "Outbound provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderPacingDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_provider_pacing_delay_seconds",
			Help:    "Time spent waiting on the outbound pacing limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	SearchFindings = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_search_findings",
			Help:    "Findings returned per search call",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"provider"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_llm_tokens_total",
			Help: "Tokens consumed by LLM completions",
		},
		[]string{"role"}, // planner | writer | conclusion
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_http_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Streaming
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_stream_subscribers",
			Help: "Active event stream subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_stream_events_dropped_total",
			Help: "Events dropped due to slow stream subscribers",
		},
	)
)
