package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/metrics"
	"github.com/openreport-ai/orchestrator/internal/ratecontrol"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// Registry routes searches to the registered provider for a kind and owns
// the cross-cutting concerns: outbound pacing, deduplication, per-source
// truncation, and metrics.
type Registry struct {
	mu        sync.RWMutex
	providers map[run.ProviderKind]Provider
	limiters  map[run.ProviderKind]*rate.Limiter
	lastCall  map[run.ProviderKind]time.Time
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[run.ProviderKind]Provider),
		limiters:  make(map[run.ProviderKind]*rate.Limiter),
		lastCall:  make(map[run.ProviderKind]time.Time),
		logger:    logger,
	}
}

// Register adds a provider and builds its pacing limiter from the rate
// limit table.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := p.Kind()
	r.providers[kind] = p
	r.limiters[kind] = limiterForKind(kind)
}

func limiterForKind(kind run.ProviderKind) *rate.Limiter {
	limit := ratecontrol.LimitForProvider(string(kind))
	if limit.RPM <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	interval := time.Minute / time.Duration(limit.RPM)
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Available reports the kinds that currently have a registered provider.
func (r *Registry) Available() []run.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]run.ProviderKind, 0, len(r.providers))
	for _, k := range run.KnownProviderKinds() {
		if _, ok := r.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Request is one routed search: a batch of queries against one provider
// kind under a run's frozen settings.
type Request struct {
	Kind               run.ProviderKind
	Queries            []string
	Settings           config.SearchSettings
	MaxTokensPerSource int
	// Minimum spacing the run asks for on top of the provider's own limit.
	RequestDelay time.Duration
}

// Search executes one request, issuing the queries one at a time so pacing
// applies to every outbound call. A query that fails is logged and skipped;
// the request errors only when every query failed. Findings come back
// deduplicated and truncated to the per-source token budget.
func (r *Registry) Search(ctx context.Context, req Request) ([]run.SearchFinding, error) {
	r.mu.RLock()
	provider, ok := r.providers[req.Kind]
	limiter := r.limiters[req.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &run.ProviderError{
			Provider: string(req.Kind),
			Cause:    fmt.Errorf("no provider registered for kind %q", req.Kind),
		}
	}

	var findings []run.SearchFinding
	var lastErr error
	failed := 0
	for _, query := range req.Queries {
		if err := r.pace(ctx, req.Kind, limiter, req.RequestDelay); err != nil {
			return nil, err
		}
		callStart := time.Now()
		batch, err := provider.Search(ctx, query, req.Settings)
		metrics.ProviderLatency.WithLabelValues(string(req.Kind)).Observe(time.Since(callStart).Seconds())
		if err != nil {
			metrics.ProviderCalls.WithLabelValues(string(req.Kind), "error").Inc()
			if ctx.Err() != nil {
				return nil, err
			}
			failed++
			lastErr = err
			r.logger.Warn("Search query failed, continuing with the rest",
				zap.String("provider", string(req.Kind)),
				zap.String("query", query),
				zap.Error(err))
			continue
		}
		metrics.ProviderCalls.WithLabelValues(string(req.Kind), "ok").Inc()
		findings = append(findings, batch...)
	}
	if failed > 0 && failed == len(req.Queries) {
		return nil, lastErr
	}

	findings = Truncate(Deduplicate(findings), req.MaxTokensPerSource)
	metrics.SearchFindings.WithLabelValues(string(req.Kind)).Observe(float64(len(findings)))
	r.logger.Debug("Search request completed",
		zap.String("provider", string(req.Kind)),
		zap.Int("queries", len(req.Queries)),
		zap.Int("failed_queries", failed),
		zap.Int("findings", len(findings)))
	return findings, nil
}

// pace blocks until the provider's RPM limiter admits a call and the
// request delay has elapsed since the previous outbound call to the same
// provider. The delay is a minimum spacing, so a slow provider response
// already counts toward it.
func (r *Registry) pace(ctx context.Context, kind run.ProviderKind, limiter *rate.Limiter, delay time.Duration) error {
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if delay > 0 {
		r.mu.RLock()
		last := r.lastCall[kind]
		r.mu.RUnlock()
		if wait := delay - time.Since(last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.mu.Lock()
	r.lastCall[kind] = time.Now()
	r.mu.Unlock()
	metrics.ProviderPacingDelay.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return nil
}
