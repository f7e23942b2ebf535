// Package testutil provides configurable test fakes for cruise interfaces.
package testutil

import (
	"context"
	"sync"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/storage"
)

// FakeStore is an in-memory storage.Store for testing, modeled on the
// teacher's in-memory route fake but scoped to the ledger's own operations.
type FakeStore struct {
	mu         sync.Mutex
	usageLogs  []cruise.UsageLog
	rateEvents []cruise.RateLimitEvent
	decisions  []cruise.RoutingDecision
	sessions   map[string]*cruise.Session
	nextID     int64

	FailInsertUsageLog bool
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{sessions: make(map[string]*cruise.Session)}
}

func (s *FakeStore) InsertUsageLog(_ context.Context, log *cruise.UsageLog) error {
	if s.FailInsertUsageLog {
		return errFakeInsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	log.ID = s.nextID
	s.usageLogs = append(s.usageLogs, *log)
	if sess, ok := s.sessions[log.SessionID]; ok {
		sess.TotalCost += log.CostUSD
		sess.TotalTokens += int64(log.InputTokens + log.OutputTokens)
	}
	return nil
}

func (s *FakeStore) WindowUsageLogs(_ context.Context, hours int) ([]cruise.UsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := latestTimestamp(s.usageLogs) - int64(hours)*3_600_000
	var out []cruise.UsageLog
	for _, l := range s.usageLogs {
		if l.TimestampMs >= cutoff {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *FakeStore) SessionUsageLogs(_ context.Context, sessionID string) ([]cruise.UsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cruise.UsageLog
	for _, l := range s.usageLogs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *FakeStore) TodayUsageLogs(ctx context.Context) ([]cruise.UsageLog, error) {
	return s.WindowUsageLogs(ctx, 24)
}

func (s *FakeStore) TotalUsage(_ context.Context, tf storage.Timeframe, sessionID string) (storage.UsageTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var totals storage.UsageTotals
	for _, l := range s.usageLogs {
		if tf == storage.TimeframeSession && l.SessionID != sessionID {
			continue
		}
		totals.InputTokens += int64(l.InputTokens)
		totals.OutputTokens += int64(l.OutputTokens)
		totals.CostUSD += l.CostUSD
		totals.RequestCount++
	}
	return totals, nil
}

func (s *FakeStore) InsertRateLimitEvent(_ context.Context, ev *cruise.RateLimitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.rateEvents = append(s.rateEvents, *ev)
	return nil
}

func (s *FakeStore) RateLimitHistory(_ context.Context, model string) ([]cruise.RateLimitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cruise.RateLimitEvent
	for _, ev := range s.rateEvents {
		if ev.Model == model {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *FakeStore) RateLimitWindow(_ context.Context, hours int) ([]cruise.RateLimitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := latestEventTimestamp(s.rateEvents) - int64(hours)*3_600_000
	var out []cruise.RateLimitEvent
	for _, ev := range s.rateEvents {
		if ev.TimestampMs >= cutoff {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *FakeStore) InsertRoutingDecision(_ context.Context, d *cruise.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.ID = s.nextID
	s.decisions = append(s.decisions, *d)
	return nil
}

func (s *FakeStore) RoutingSavings(_ context.Context, tf storage.Timeframe, sessionID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, d := range s.decisions {
		if tf == storage.TimeframeSession && d.SessionID != sessionID {
			continue
		}
		total += d.EstimatedSavings
	}
	return total, nil
}

func (s *FakeStore) CreateSession(_ context.Context, sess *cruise.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.SessionID] = &cp
	return nil
}

func (s *FakeStore) CloseSession(_ context.Context, sessionID string, endedAtMs int64, totalCost float64, totalTokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.EndedAtMs = endedAtMs
		sess.TotalCost = totalCost
		sess.TotalTokens = totalTokens
	}
	return nil
}

func (s *FakeStore) Cleanup(_ context.Context, retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := latestTimestamp(s.usageLogs) - int64(retentionDays)*86_400_000
	kept := s.usageLogs[:0]
	var deleted int64
	for _, l := range s.usageLogs {
		if l.TimestampMs < cutoff {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	s.usageLogs = kept
	return deleted, nil
}

func (s *FakeStore) Vacuum(context.Context) error { return nil }
func (s *FakeStore) Ping(context.Context) error   { return nil }
func (s *FakeStore) Close() error                 { return nil }

// UsageLogs exposes the raw inserted rows for assertions.
func (s *FakeStore) UsageLogs() []cruise.UsageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cruise.UsageLog, len(s.usageLogs))
	copy(out, s.usageLogs)
	return out
}

// RateLimitEvents exposes the raw inserted events for assertions.
func (s *FakeStore) RateLimitEvents() []cruise.RateLimitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cruise.RateLimitEvent, len(s.rateEvents))
	copy(out, s.rateEvents)
	return out
}

func latestTimestamp(logs []cruise.UsageLog) int64 {
	var max int64
	for _, l := range logs {
		if l.TimestampMs > max {
			max = l.TimestampMs
		}
	}
	return max
}

func latestEventTimestamp(events []cruise.RateLimitEvent) int64 {
	var max int64
	for _, e := range events {
		if e.TimestampMs > max {
			max = e.TimestampMs
		}
	}
	return max
}

type fakeInsertError struct{}

func (fakeInsertError) Error() string { return "fake store: insert forced failure" }

var errFakeInsert error = fakeInsertError{}
