// Package storage defines the persistence interface for the usage ledger.
package storage

import (
	"context"

	cruise "github.com/cruisehq/cruise/internal"
)

// Timeframe selects the window for aggregate queries.
type Timeframe string

const (
	TimeframeSession Timeframe = "session"
	TimeframeToday   Timeframe = "today"
	TimeframeAll     Timeframe = "all"
)

// UsageTotals is the result of an aggregate usage query.
type UsageTotals struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	RequestCount int64
}

// Store is the Usage Ledger's persistence interface. It is intentionally
// narrow: unlike the teacher's storage.Store (which composes APIKeyStore,
// ProviderStore, RouteStore, and OrgStore for a multi-tenant gateway), this
// proxy has exactly one tenant and no DB-backed configuration, so only the
// ledger's own operations are exposed.
type Store interface {
	InsertUsageLog(ctx context.Context, log *cruise.UsageLog) error
	WindowUsageLogs(ctx context.Context, hours int) ([]cruise.UsageLog, error)
	SessionUsageLogs(ctx context.Context, sessionID string) ([]cruise.UsageLog, error)
	TodayUsageLogs(ctx context.Context) ([]cruise.UsageLog, error)
	TotalUsage(ctx context.Context, tf Timeframe, sessionID string) (UsageTotals, error)

	InsertRateLimitEvent(ctx context.Context, ev *cruise.RateLimitEvent) error
	RateLimitHistory(ctx context.Context, model string) ([]cruise.RateLimitEvent, error)
	RateLimitWindow(ctx context.Context, hours int) ([]cruise.RateLimitEvent, error)

	InsertRoutingDecision(ctx context.Context, d *cruise.RoutingDecision) error
	RoutingSavings(ctx context.Context, tf Timeframe, sessionID string) (float64, error)

	CreateSession(ctx context.Context, s *cruise.Session) error
	CloseSession(ctx context.Context, sessionID string, endedAtMs int64, totalCost float64, totalTokens int64) error

	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	Vacuum(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
