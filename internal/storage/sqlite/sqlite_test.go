package sqlite

import (
	"context"
	"testing"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndQueryUsageLog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	log := &cruise.UsageLog{
		TimestampMs:  nowMs(),
		SessionID:    "sess-1",
		Model:        "claude-sonnet-4-6",
		Provider:     "anthropic",
		InputTokens:  1000,
		OutputTokens: 500,
		CostUSD:      0.0105,
		LatencyMs:    820,
		Success:      true,
	}
	if err := s.InsertUsageLog(ctx, log); err != nil {
		t.Fatal("insert:", err)
	}
	if log.ID == 0 {
		t.Error("expected ID to be set after insert")
	}

	got, err := s.SessionUsageLogs(ctx, "sess-1")
	if err != nil {
		t.Fatal("session logs:", err)
	}
	if len(got) != 1 {
		t.Fatalf("session logs count = %d, want 1", len(got))
	}
	if got[0].Model != "claude-sonnet-4-6" || got[0].InputTokens != 1000 {
		t.Errorf("unexpected log: %+v", got[0])
	}

	window, err := s.WindowUsageLogs(ctx, 24)
	if err != nil {
		t.Fatal("window logs:", err)
	}
	if len(window) != 1 {
		t.Fatalf("window logs count = %d, want 1", len(window))
	}

	today, err := s.TodayUsageLogs(ctx)
	if err != nil {
		t.Fatal("today logs:", err)
	}
	if len(today) != 1 {
		t.Fatalf("today logs count = %d, want 1", len(today))
	}

	totals, err := s.TotalUsage(ctx, storage.TimeframeSession, "sess-1")
	if err != nil {
		t.Fatal("totals:", err)
	}
	if totals.InputTokens != 1000 || totals.OutputTokens != 500 || totals.RequestCount != 1 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestRateLimitEventHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ev := &cruise.RateLimitEvent{
		TimestampMs:           nowMs(),
		Model:                 "claude-sonnet-4-6",
		ErrorType:              "rate_limit_error",
		TokensUsedBeforeLimit: 4_800_000,
		WindowHours:           5,
	}
	if err := s.InsertRateLimitEvent(ctx, ev); err != nil {
		t.Fatal("insert:", err)
	}

	hist, err := s.RateLimitHistory(ctx, "claude-sonnet-4-6")
	if err != nil {
		t.Fatal("history:", err)
	}
	if len(hist) != 1 || hist[0].TokensUsedBeforeLimit != 4_800_000 {
		t.Fatalf("unexpected history: %+v", hist)
	}

	window, err := s.RateLimitWindow(ctx, 24)
	if err != nil {
		t.Fatal("window:", err)
	}
	if len(window) != 1 {
		t.Fatalf("window count = %d, want 1", len(window))
	}
}

func TestRoutingDecisionSavings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	d := &cruise.RoutingDecision{
		TimestampMs:      nowMs(),
		SessionID:        "sess-1",
		OriginalProvider: "anthropic",
		RoutedProvider:   "openrouter",
		RoutedModel:      "anthropic/claude-sonnet-4.6",
		Reason:           "usage_percent > 85",
		EstimatedSavings: 1.20,
	}
	if err := s.InsertRoutingDecision(ctx, d); err != nil {
		t.Fatal("insert:", err)
	}

	savings, err := s.RoutingSavings(ctx, storage.TimeframeSession, "sess-1")
	if err != nil {
		t.Fatal("savings:", err)
	}
	if savings != 1.20 {
		t.Errorf("savings = %v, want 1.20", savings)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	sess := &cruise.Session{
		SessionID:   "sess-2",
		StartedAtMs: nowMs(),
		ProjectPath: "/home/user/project",
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal("create:", err)
	}
	if err := s.CloseSession(ctx, "sess-2", nowMs(), 3.50, 120_000); err != nil {
		t.Fatal("close:", err)
	}
}

func TestCleanupDeletesOldRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	old := &cruise.UsageLog{
		TimestampMs: nowMs() - 40*86_400_000,
		SessionID:   "sess-old",
		Model:       "claude-sonnet-4-6",
		Provider:    "anthropic",
		Success:     true,
	}
	fresh := &cruise.UsageLog{
		TimestampMs: nowMs(),
		SessionID:   "sess-new",
		Model:       "claude-sonnet-4-6",
		Provider:    "anthropic",
		Success:     true,
	}
	if err := s.InsertUsageLog(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertUsageLog(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal("cleanup:", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	remaining, err := s.WindowUsageLogs(ctx, 24*365)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].SessionID != "sess-new" {
		t.Fatalf("unexpected remaining rows: %+v", remaining)
	}

	if err := s.Vacuum(ctx); err != nil {
		t.Fatal("vacuum:", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
