// Package prediction implements the Prediction Engine: it composes the
// Usage Ledger, the Limit Learner, and Velocity+Pattern into a single
// per-model, per-window verdict on whether the caller should keep going,
// switch model, switch provider, or pause.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/cache"
	"github.com/cruisehq/cruise/internal/learner"
	"github.com/cruisehq/cruise/internal/storage"
	"github.com/cruisehq/cruise/internal/velocity"
)

// cacheTTL bounds how long a Prediction is reused across requests in the
// same window. Mirrors the teacher's router cache TTL
// (internal/app/router.go's 10s route-resolution cache) but shorter, since a
// stale prediction risks letting a client blow past a limit it just
// approached.
const cacheTTL = 2 * time.Second

// cacheMaxEntries bounds memory use; one entry per (model, window) pair
// actually queried is expected to be a handful at most.
const cacheMaxEntries = 256

// Engine computes and caches Predictions. The cache is the shared
// byte-keyed cache.Memory used elsewhere for response caching, repurposed
// here with Predictions marshaled to JSON rather than raw response bytes.
type Engine struct {
	store   storage.Store
	learner *learner.Learner
	cache   *cache.Memory
}

// New builds a Prediction Engine backed by store and learner.
func New(store storage.Store, l *learner.Learner) (*Engine, error) {
	c, err := cache.NewMemory(cacheMaxEntries, cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("create prediction cache: %w", err)
	}
	return &Engine{store: store, learner: l, cache: c}, nil
}

func cacheKey(model string, windowHours int) string {
	return model + "|" + strconv.Itoa(windowHours)
}

// Predict returns the current Prediction for model over the given window,
// serving a cached value when one was computed within cacheTTL.
func (e *Engine) Predict(ctx context.Context, windowHours int, model string) (cruise.Prediction, error) {
	key := cacheKey(model, windowHours)
	if raw, ok := e.cache.Get(ctx, key); ok {
		var cached cruise.Prediction
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	p, err := e.compute(ctx, windowHours, model)
	if err != nil {
		return cruise.Prediction{}, err
	}
	if raw, err := json.Marshal(p); err == nil {
		e.cache.Set(ctx, key, raw, cacheTTL)
	}
	return p, nil
}

// Reset drops every cached prediction, used by tests and by the server's
// rate-limit handling when a rate-limit event invalidates the current
// picture immediately.
func (e *Engine) Reset() {
	e.cache.Purge(context.Background())
}

func (e *Engine) compute(ctx context.Context, windowHours int, model string) (cruise.Prediction, error) {
	logs, err := e.store.WindowUsageLogs(ctx, windowHours)
	if err != nil {
		return cruise.Prediction{}, fmt.Errorf("load window usage logs: %w", err)
	}

	var modelLogs []cruise.UsageLog
	var currentUsage int64
	for _, l := range logs {
		if l.Model != model {
			continue
		}
		modelLogs = append(modelLogs, l)
		currentUsage += int64(l.InputTokens + l.OutputTokens)
	}

	limit := e.learner.GetLearnedLimit(model)
	vel := velocity.Compute(modelLogs, float64(windowHours*60))

	usagePercent := 0.0
	if limit.TokenLimit > 0 {
		usagePercent = math.Min(100, float64(currentUsage)/float64(limit.TokenLimit)*100)
	}
	tokensRemaining := limit.TokenLimit - currentUsage
	if tokensRemaining < 0 {
		tokensRemaining = 0
	}

	minutesUntilLimit := cruise.MinutesUntilLimitUnknown
	if vel.TokensPerMinute > 0 {
		minutesUntilLimit = int(float64(tokensRemaining) / vel.TokensPerMinute)
	}

	confidence := int(math.Floor(float64(limit.Confidence+min(100, len(modelLogs)*2)) / 2))

	return cruise.Prediction{
		Model:             model,
		WindowHours:       windowHours,
		CurrentUsage:      currentUsage,
		TokenLimit:        limit.TokenLimit,
		UsagePercent:      usagePercent,
		TokensRemaining:   tokensRemaining,
		MinutesUntilLimit: minutesUntilLimit,
		Velocity:          vel,
		Confidence:        confidence,
		RecommendedAction: recommend(minutesUntilLimit, usagePercent, vel.Pattern),
	}, nil
}

func recommend(minutesUntilLimit int, usagePercent float64, pattern cruise.Pattern) cruise.RecommendedAction {
	switch {
	case minutesUntilLimit < 10 || usagePercent > 95:
		return cruise.ActionPause
	case usagePercent > 85 || (pattern == cruise.PatternBurst && usagePercent > 70):
		return cruise.ActionSwitchProvider
	case usagePercent > 70:
		return cruise.ActionSwitchModel
	default:
		return cruise.ActionContinue
	}
}
