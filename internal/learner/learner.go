// Package learner implements the Limit Learner: it turns a history of
// upstream rate-limit rejections into a running estimate of each model's
// token ceiling, the way go-claude-monitor's session package turns raw usage
// entries into burn-rate projections.
package learner

import (
	"context"
	"fmt"
	"math"
	"sync"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/storage"
)

// staticDefault is the fallback ceiling used for a model with no recorded
// rate-limit history yet. Confidence 0 signals the Prediction Engine that
// this number is a guess, not a learned value.
type staticDefault struct {
	tokenLimit  int64
	windowHours int
}

// defaultsByClass maps a model's class (matched by substring, in table order)
// to its static fallback. Claude Sonnet/Opus/Haiku naming conventions mirror
// the pricing table in the Adapters package.
var defaultsByClass = []struct {
	match   string
	limit   int64
	windowH int
}{
	{"opus", 2_000_000, 5},
	{"haiku", 10_000_000, 5},
	{"sonnet", 5_000_000, 5},
}

func staticDefaultFor(model string) staticDefault {
	for _, d := range defaultsByClass {
		if containsFold(model, d.match) {
			return staticDefault{tokenLimit: d.limit, windowHours: d.windowH}
		}
	}
	return staticDefault{tokenLimit: 5_000_000, windowHours: 5}
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	if subl == 0 || subl > sl {
		return subl == 0
	}
	for i := 0; i+subl <= sl; i++ {
		if eqFold(s[i:i+subl], substr) {
			return true
		}
	}
	return false
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Learner holds the in-memory learned ceiling for every model seen so far.
// It is reconstructed from rate_limit_events on startup and updated
// synchronously every time a new rejection is recorded, so GetLearnedLimit
// never touches the database on the hot path.
type Learner struct {
	store storage.Store

	mu     sync.RWMutex
	limits map[string]*cruise.LearnedLimit
}

// New creates a Learner and replays every model's rate-limit history from
// the store to rebuild its in-memory limits.
func New(ctx context.Context, store storage.Store, models []string) (*Learner, error) {
	l := &Learner{store: store, limits: make(map[string]*cruise.LearnedLimit)}
	for _, model := range models {
		history, err := store.RateLimitHistory(ctx, model)
		if err != nil {
			return nil, fmt.Errorf("load rate limit history for %s: %w", model, err)
		}
		for _, ev := range history {
			l.apply(model, ev.TokensUsedBeforeLimit, ev.WindowHours, ev.TimestampMs)
		}
	}
	return l, nil
}

// RecordRateLimit persists a new rejection and folds it into the model's
// learned ceiling using a running weighted average:
//
//	new_limit = floor((old_limit*old_points + new_tokens_before_limit*0.95) / (old_points+1))
//
// The first observation for a model seeds the limit directly (floor(tokens*0.95))
// with confidence 20.
func (l *Learner) RecordRateLimit(ctx context.Context, ev *cruise.RateLimitEvent) error {
	if err := l.store.InsertRateLimitEvent(ctx, ev); err != nil {
		return fmt.Errorf("record rate limit event: %w", err)
	}
	l.apply(ev.Model, ev.TokensUsedBeforeLimit, ev.WindowHours, ev.TimestampMs)
	return nil
}

func (l *Learner) apply(model string, tokensBeforeLimit int, windowHours int, atMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.limits[model]
	if !ok || cur.DataPoints == 0 {
		l.limits[model] = &cruise.LearnedLimit{
			Model:       model,
			TokenLimit:  int64(math.Floor(float64(tokensBeforeLimit) * 0.95)),
			WindowHours: windowHours,
			Confidence:  20,
			LastUpdated: atMs,
			DataPoints:  1,
		}
		return
	}

	weighted := float64(cur.TokenLimit)*float64(cur.DataPoints) + float64(tokensBeforeLimit)*0.95
	newPoints := cur.DataPoints + 1
	cur.TokenLimit = int64(math.Floor(weighted / float64(newPoints)))
	cur.DataPoints = newPoints
	cur.WindowHours = windowHours
	cur.LastUpdated = atMs
	cur.Confidence = min(100, cur.DataPoints*20)
}

// GetLearnedLimit returns the current learned ceiling for a model, falling
// back to a static class default (confidence 0) when nothing has been
// learned yet.
func (l *Learner) GetLearnedLimit(model string) cruise.LearnedLimit {
	l.mu.RLock()
	cur, ok := l.limits[model]
	l.mu.RUnlock()
	if ok {
		return *cur
	}

	def := staticDefaultFor(model)
	return cruise.LearnedLimit{
		Model:       model,
		TokenLimit:  def.tokenLimit,
		WindowHours: def.windowHours,
		Confidence:  0,
		DataPoints:  0,
	}
}
