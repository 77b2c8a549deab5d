// ABOUTME: Provider gateway: cache-first generation with deterministic failover.
// ABOUTME: Owns health tracking, rate limiting, and response caching for all sessions.

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/2389/troupe-gateway/internal/cache"
	"github.com/2389/troupe-gateway/internal/persona"
)

// Metrics receives gateway observations. The metrics package implements it;
// a nil Metrics disables recording.
type Metrics interface {
	RecordProviderRequest(provider, outcome string, seconds float64)
	RecordCacheLookup(hit bool)
}

// noopMetrics is used when no collector is wired in.
type noopMetrics struct{}

func (noopMetrics) RecordProviderRequest(string, string, float64) {}
func (noopMetrics) RecordCacheLookup(bool)                        {}

// Options tune the gateway's failover and caching behavior.
type Options struct {
	// CacheTTL is how long generated responses stay cached.
	CacheTTL time.Duration

	// AttemptTimeout bounds each provider attempt, including any rate-limiter
	// wait.
	AttemptTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that demotes a
	// provider to unavailable.
	FailureThreshold int

	// OverrideAttempts is the retry cap against a pinned provider. Personas
	// with an explicit provider never fail over to another one.
	OverrideAttempts int

	// RateLimit is the per-provider request rate in requests/second.
	// Zero disables rate limiting.
	RateLimit float64
}

// Gateway routes generation requests to external providers. It consults the
// response cache before any network attempt, walks candidates in a
// deterministic health-aware order, and records per-provider health as it
// goes. One Gateway instance is shared by all session loops.
type Gateway struct {
	clients  map[string]Client
	order    []string
	health   *HealthTracker
	cache    cache.Cache
	limiters map[string]*rate.Limiter
	opts     Options
	metrics  Metrics
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates a Gateway over the given clients. The client slice order is the
// failover priority. The cache store may be nil, which disables caching.
func New(clients []Client, store cache.Cache, opts Options, metrics Metrics, logger *slog.Logger) (*Gateway, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one provider client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.OverrideAttempts <= 0 {
		opts.OverrideAttempts = 2
	}

	byName := make(map[string]Client, len(clients))
	order := make([]string, 0, len(clients))
	limiters := make(map[string]*rate.Limiter, len(clients))
	for _, c := range clients {
		name := c.Name()
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate provider client %q", name)
		}
		byName[name] = c
		order = append(order, name)
		if opts.RateLimit > 0 {
			limiters[name] = rate.NewLimiter(rate.Limit(opts.RateLimit), 2)
		}
	}

	return &Gateway{
		clients:  byName,
		order:    order,
		health:   NewHealthTracker(opts.FailureThreshold, order...),
		cache:    store,
		limiters: limiters,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.With("component", "provider_gateway"),
	}, nil
}

// Providers returns the registered provider ids in failover priority order.
func (g *Gateway) Providers() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Snapshot returns the current health of every registered provider.
func (g *Gateway) Snapshot() []HealthInfo {
	return g.health.Snapshot()
}

// AnySelectable reports whether at least one provider can currently be
// auto-selected.
func (g *Gateway) AnySelectable() bool {
	for _, name := range g.order {
		if g.health.Selectable(name) {
			return true
		}
	}
	return false
}

// resolvedModel is the model label used in cache keys: the persona's explicit
// model, or "auto" when the gateway picks per provider.
func resolvedModel(p persona.Persona) string {
	if p.Model != "" {
		return p.Model
	}
	return "auto"
}

// Generate produces text for the persona against the given message history.
// The cache is always consulted first; cache trouble is logged and treated as
// a miss, never surfaced. On a miss, candidates are attempted in order until
// one succeeds or all are exhausted, which returns ErrUnavailable. Identical
// concurrent misses are collapsed into a single upstream request.
func (g *Gateway) Generate(ctx context.Context, p persona.Persona, messages []Message) (Result, error) {
	params := GenParams{
		Temperature: p.Temperature,
		MaxTokens:   p.TokenBudget(),
	}
	key := cacheKey(p.Name, resolvedModel(p), messages, params)

	if g.cache != nil {
		text, err := g.cache.Get(ctx, key)
		switch {
		case err == nil:
			g.metrics.RecordCacheLookup(true)
			g.logger.Debug("cache hit", "persona", p.Name, "key", key)
			return Result{Text: text, Provider: "cache", Cached: true}, nil
		case errors.Is(err, cache.ErrMiss):
			g.metrics.RecordCacheLookup(false)
		default:
			g.metrics.RecordCacheLookup(false)
			g.logger.Warn("cache lookup failed", "persona", p.Name, "error", err)
		}
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		res, genErr := g.generateUncached(ctx, p, messages, params, key)
		if genErr != nil {
			return Result{}, genErr
		}
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// generateUncached walks the candidate providers for one request.
func (g *Gateway) generateUncached(ctx context.Context, p persona.Persona, messages []Message, params GenParams, key string) (Result, error) {
	candidates, err := g.candidatesFor(p)
	if err != nil {
		return Result{}, err
	}

	for _, name := range candidates {
		text, latency, attemptErr := g.attempt(ctx, name, p.Model, messages, params)
		if attemptErr != nil {
			// A canceled parent context means the caller is shutting the
			// session down; that is not a provider fault.
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("generation canceled: %w", ctx.Err())
			}

			if g.health.RecordFailure(name) {
				g.logger.Warn("provider demoted to unavailable",
					"provider", name,
					"consecutive_failures", g.health.Failures(name),
				)
			}
			g.logger.Debug("provider attempt failed",
				"provider", name,
				"persona", p.Name,
				"error", attemptErr,
			)
			continue
		}

		g.health.RecordSuccess(name)

		if g.cache != nil {
			if cacheErr := g.cache.Set(ctx, key, text, g.opts.CacheTTL); cacheErr != nil {
				g.logger.Warn("cache write failed", "key", key, "error", cacheErr)
			}
		}

		return Result{Text: text, Provider: name, Latency: latency}, nil
	}

	return Result{}, fmt.Errorf("persona %s: %w", p.Name, ErrUnavailable)
}

// candidatesFor builds the attempt list for a persona: the pinned provider
// repeated up to the retry cap, or the health-ordered failover list.
func (g *Gateway) candidatesFor(p persona.Persona) ([]string, error) {
	if p.Provider != "" && p.Provider != "auto" {
		if _, ok := g.clients[p.Provider]; !ok {
			return nil, fmt.Errorf("persona %s: %w: %s", p.Name, ErrUnknownProvider, p.Provider)
		}
		candidates := make([]string, g.opts.OverrideAttempts)
		for i := range candidates {
			candidates[i] = p.Provider
		}
		return candidates, nil
	}

	candidates := g.health.Order(g.order)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("persona %s: %w", p.Name, ErrUnavailable)
	}
	return candidates, nil
}

// attempt performs one provider call under the per-attempt timeout. The
// rate-limiter wait shares the same deadline.
func (g *Gateway) attempt(ctx context.Context, name, model string, messages []Message, params GenParams) (string, time.Duration, error) {
	client := g.clients[name]

	attemptCtx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
	defer cancel()

	if lim := g.limiters[name]; lim != nil {
		if err := lim.Wait(attemptCtx); err != nil {
			g.metrics.RecordProviderRequest(name, "rate_limited", 0)
			return "", 0, fmt.Errorf("%s: limiter wait: %w", name, err)
		}
	}

	start := time.Now()
	text, err := client.Send(attemptCtx, model, messages, params)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%s: %w: %v", name, ErrTimeout, err)
		}
		g.metrics.RecordProviderRequest(name, outcomeFor(err), latency.Seconds())
		return "", latency, err
	}

	g.metrics.RecordProviderRequest(name, "success", latency.Seconds())
	return text, latency, nil
}

// outcomeFor maps an attempt error onto a metrics outcome label.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// HealthCheck probes one provider and folds the outcome into its health
// state. Returns true when the probe succeeded.
func (g *Gateway) HealthCheck(ctx context.Context, providerID string) bool {
	client, ok := g.clients[providerID]
	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(probeCtx); err != nil {
		g.health.RecordFailure(providerID)
		g.logger.Debug("health probe failed", "provider", providerID, "error", err)
		return false
	}
	g.health.RecordSuccess(providerID)
	return true
}

// ListModels returns the models offered by one provider.
func (g *Gateway) ListModels(ctx context.Context, providerID string) ([]string, error) {
	client, ok := g.clients[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return client.ListModels(ctx)
}
