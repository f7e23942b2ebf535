package prediction

import (
	"context"
	"testing"
	"time"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/learner"
	"github.com/cruisehq/cruise/internal/storage/sqlite"
)

func newTestEngine(t *testing.T) (*sqlite.Store, *Engine) {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	l, err := learner.New(context.Background(), store, nil)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := New(store, l)
	if err != nil {
		t.Fatal(err)
	}
	return store, eng
}

func TestPredictContinueOnLowUsage(t *testing.T) {
	store, eng := newTestEngine(t)
	ctx := context.Background()

	if err := store.InsertUsageLog(ctx, &cruise.UsageLog{
		TimestampMs: nowForTest(), SessionID: "s1", Model: "claude-sonnet-4-6", Provider: "anthropic",
		InputTokens: 1000, OutputTokens: 500, Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	p, err := eng.Predict(ctx, 5, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal(err)
	}
	if p.RecommendedAction != cruise.ActionContinue {
		t.Errorf("action = %v, want continue", p.RecommendedAction)
	}
	if p.UsagePercent >= 70 {
		t.Errorf("usage percent = %v, want < 70", p.UsagePercent)
	}
}

func TestPredictCachesWithinTTL(t *testing.T) {
	store, eng := newTestEngine(t)
	ctx := context.Background()

	if err := store.InsertUsageLog(ctx, &cruise.UsageLog{
		TimestampMs: nowForTest(), SessionID: "s1", Model: "claude-sonnet-4-6", Provider: "anthropic",
		InputTokens: 100, OutputTokens: 100, Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	first, err := eng.Predict(ctx, 5, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal(err)
	}

	// Insert more usage without invalidating the cache: the cached value
	// should still be returned.
	if err := store.InsertUsageLog(ctx, &cruise.UsageLog{
		TimestampMs: nowForTest(), SessionID: "s1", Model: "claude-sonnet-4-6", Provider: "anthropic",
		InputTokens: 4_000_000, OutputTokens: 0, Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	second, err := eng.Predict(ctx, 5, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal(err)
	}
	if second.CurrentUsage != first.CurrentUsage {
		t.Errorf("expected cached prediction, got fresh compute: %+v vs %+v", first, second)
	}

	eng.Reset()
	third, err := eng.Predict(ctx, 5, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal(err)
	}
	if third.CurrentUsage == first.CurrentUsage {
		t.Error("expected Reset to invalidate the cache")
	}
}

func TestPredictPauseOnNearLimit(t *testing.T) {
	store, eng := newTestEngine(t)
	ctx := context.Background()

	if err := store.InsertRateLimitEvent(ctx, &cruise.RateLimitEvent{
		TimestampMs: nowForTest(), Model: "claude-sonnet-4-6", TokensUsedBeforeLimit: 1_000_000, WindowHours: 5,
	}); err != nil {
		t.Fatal(err)
	}
	l, err := learner.New(ctx, store, []string{"claude-sonnet-4-6"})
	if err != nil {
		t.Fatal(err)
	}
	eng2, err := New(store, l)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.InsertUsageLog(ctx, &cruise.UsageLog{
		TimestampMs: nowForTest(), SessionID: "s1", Model: "claude-sonnet-4-6", Provider: "anthropic",
		InputTokens: 940_000, OutputTokens: 10_000, Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	p, err := eng2.Predict(ctx, 5, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal(err)
	}
	if p.RecommendedAction != cruise.ActionPause {
		t.Errorf("action = %v, want pause (usage_percent=%v)", p.RecommendedAction, p.UsagePercent)
	}
	_ = store
}

func nowForTest() int64 { return time.Now().UnixMilli() }
