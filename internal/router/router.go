// Package router implements the Router: it decides, per request, whether to
// keep talking to the primary provider or redirect to a cheaper model or a
// fallback provider. Grounded on internal/app/router.go's cached
// alias-resolution shape, though the matching logic here is in-memory
// threshold comparison rather than a DB-backed route lookup.
package router

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cruisehq/cruise/internal/config"
)

// defaultRateLimitWindow is used when a provider gives no reset_time hint.
const defaultRateLimitWindow = 5 * time.Hour

// minRateLimitClear is the minimum time the sticky flag stays set, even if
// the provider's reported reset_time is imminent.
const minRateLimitClear = 60 * time.Second

// Router holds the provider list and the sticky rate-limit state.
type Router struct {
	mode       string
	enabled    bool
	thresholds config.ThresholdConfig
	providers  []config.ProviderEntry

	mu             sync.Mutex
	isRateLimited  bool
	rateLimitTimer *time.Timer
	resetAt        time.Time
}

// New builds a Router from router configuration.
func New(cfg config.RouterConfig) *Router {
	return &Router{
		mode:       cfg.Mode,
		enabled:    cfg.Enabled,
		thresholds: cfg.Thresholds,
		providers:  cfg.Providers,
	}
}

// Decision is the outcome of Route: which provider/model to use and why.
type Decision struct {
	TargetProvider string
	TargetModel    string
	ShouldRoute    bool
	Reason         string
}

func (r *Router) primary() (config.ProviderEntry, bool) {
	for _, p := range r.providers {
		if p.Type == config.TypePrimary {
			return p, true
		}
	}
	return config.ProviderEntry{}, false
}

func providersByType(entries []config.ProviderEntry, typ string) []config.ProviderEntry {
	var out []config.ProviderEntry
	for _, p := range entries {
		if p.Type == typ && p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// fallbackCandidates returns every enabled non-primary provider, ordered by
// ascending priority, for the sticky rate-limit failover cascade.
func fallbackCandidates(entries []config.ProviderEntry) []config.ProviderEntry {
	var out []config.ProviderEntry
	for _, p := range entries {
		if p.Type != config.TypePrimary && p.IsEnabled() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func haikuModel(entry config.ProviderEntry) string {
	for _, m := range entry.Models {
		if strings.Contains(strings.ToLower(m), "haiku") {
			return m
		}
	}
	if len(entry.Models) > 0 {
		return entry.Models[0]
	}
	return ""
}

// Route applies the five-step selection cascade described in the Router
// module and returns a Decision. should_route is the explicit disjunction
// (target_model != requested_model) OR (target_provider != primary's name) —
// never collapsed into a single provider-only or model-only check. The
// burst/steady/declining pattern only influences the Prediction Engine's
// recommended_action, not this cascade.
func (r *Router) Route(requestedModel string, usagePercent float64) Decision {
	primary, hasPrimary := r.primary()
	primaryName := primary.Name

	if !r.enabled || r.mode == config.ModeManual {
		return Decision{TargetProvider: primaryName, TargetModel: requestedModel}
	}

	r.mu.Lock()
	rateLimited := r.isRateLimited
	r.mu.Unlock()

	// Step 1: sticky rate-limit flag takes priority over every threshold.
	// Iterate enabled providers in ascending priority, skipping the primary.
	if rateLimited {
		if candidates := fallbackCandidates(r.providers); len(candidates) > 0 {
			target := candidates[0]
			model := requestedModel
			if len(target.Models) > 0 {
				model = target.Models[0]
			}
			return r.decide(primaryName, target.Name, model, requestedModel, "rate_limited: failing over to "+target.Name)
		}
		if hasPrimary {
			model := haikuModel(primary)
			return r.decide(primaryName, primaryName, model, requestedModel, "rate_limited: no fallback provider configured, degrading to haiku-class model")
		}
	}

	// Step 2: usage_percent >= switch_to_local and a local-chat provider exists.
	if usagePercent >= r.thresholds.SwitchToLocal {
		if locals := providersByType(r.providers, config.TypeLocalChat); len(locals) > 0 {
			model := locals[0].Models[0]
			return r.decide(primaryName, locals[0].Name, model, requestedModel,
				"usage_percent >= switch_to_local")
		}
	}

	// Step 3: usage_percent >= switch_to_openrouter and an openai-compatible provider exists.
	if usagePercent >= r.thresholds.SwitchToOpenRouter {
		if compats := providersByType(r.providers, config.TypeOpenAICompat); len(compats) > 0 {
			model := compats[0].Models[0]
			return r.decide(primaryName, compats[0].Name, model, requestedModel,
				"usage_percent >= switch_to_openrouter")
		}
	}

	// Step 4: usage_percent >= switch_to_haiku and primary is enabled.
	if usagePercent >= r.thresholds.SwitchToHaiku && hasPrimary && primary.IsEnabled() {
		model := haikuModel(primary)
		return r.decide(primaryName, primaryName, model, requestedModel,
			"usage_percent >= switch_to_haiku")
	}

	// Step 5: no routing.
	return Decision{TargetProvider: primaryName, TargetModel: requestedModel}
}

func (r *Router) decide(primaryName, targetProvider, targetModel, requestedModel, reason string) Decision {
	shouldRoute := targetModel != requestedModel || targetProvider != primaryName
	return Decision{
		TargetProvider: targetProvider,
		TargetModel:    targetModel,
		ShouldRoute:    shouldRoute,
		Reason:         reason,
	}
}

// RecordRateLimit sets the sticky is_rate_limited flag and schedules its own
// clearing via a one-shot timer after max(60s, reset_time-now), or the
// 5-hour default when resetAt is zero. This deliberately is not a periodic
// worker: the flag clears itself exactly once per rejection.
func (r *Router) RecordRateLimit(resetAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isRateLimited = true
	if r.rateLimitTimer != nil {
		r.rateLimitTimer.Stop()
	}

	wait := defaultRateLimitWindow
	if !resetAt.IsZero() {
		if d := time.Until(resetAt); d > minRateLimitClear {
			wait = d
		} else {
			wait = minRateLimitClear
		}
	}
	r.resetAt = time.Now().Add(wait)

	r.rateLimitTimer = time.AfterFunc(wait, func() {
		r.mu.Lock()
		r.isRateLimited = false
		r.mu.Unlock()
	})
}

// IsRateLimited reports the current sticky flag state, for the /stats endpoint.
func (r *Router) IsRateLimited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRateLimited
}

// Mode returns the configured routing mode ("manual", "semi-auto", or "full-auto").
func (r *Router) Mode() string { return r.mode }

// Enabled reports whether routing is enabled at all.
func (r *Router) Enabled() bool { return r.enabled }

// Providers returns the configured provider list, for the /stats endpoint.
func (r *Router) Providers() []config.ProviderEntry { return r.providers }

// RateLimitResetTime returns the time the sticky rate-limit flag is due to
// clear, and whether the flag is currently set at all.
func (r *Router) RateLimitResetTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRateLimited || r.rateLimitTimer == nil {
		return time.Time{}, false
	}
	return r.resetAt, true
}
