package sqlite

import (
	"context"
	"fmt"

	cruise "github.com/cruisehq/cruise/internal"
)

const rateLimitColumns = `timestamp, model, error_type, reset_time, tokens_used_before_limit, window_hours`

// InsertRateLimitEvent appends a rate-limit rejection record. This is the
// Limit Learner's sole input: every update to a model's learned ceiling is
// derived from this table, never from usage_logs.
func (s *Store) InsertRateLimitEvent(ctx context.Context, ev *cruise.RateLimitEvent) error {
	res, err := s.write.ExecContext(ctx, `INSERT INTO rate_limit_events (`+rateLimitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.TimestampMs, ev.Model, ev.ErrorType, ev.ResetTimeMs, ev.TokensUsedBeforeLimit, ev.WindowHours,
	)
	if err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// RateLimitHistory returns every recorded rejection for a model, oldest first.
// The Limit Learner replays this on startup to reconstruct its in-memory view.
func (s *Store) RateLimitHistory(ctx context.Context, model string) ([]cruise.RateLimitEvent, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id, `+rateLimitColumns+`
		FROM rate_limit_events WHERE model = ? ORDER BY timestamp ASC`, model)
	if err != nil {
		return nil, fmt.Errorf("query rate limit history: %w", err)
	}
	defer rows.Close()

	var out []cruise.RateLimitEvent
	for rows.Next() {
		var ev cruise.RateLimitEvent
		if err := rows.Scan(&ev.ID, &ev.TimestampMs, &ev.Model, &ev.ErrorType,
			&ev.ResetTimeMs, &ev.TokensUsedBeforeLimit, &ev.WindowHours); err != nil {
			return nil, fmt.Errorf("scan rate limit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RateLimitWindow returns every rejection recorded in the last `hours` hours,
// across all models, oldest first.
func (s *Store) RateLimitWindow(ctx context.Context, hours int) ([]cruise.RateLimitEvent, error) {
	cutoff := nowMs() - int64(hours)*3600_000
	rows, err := s.read.QueryContext(ctx, `SELECT id, `+rateLimitColumns+`
		FROM rate_limit_events WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query rate limit window: %w", err)
	}
	defer rows.Close()

	var out []cruise.RateLimitEvent
	for rows.Next() {
		var ev cruise.RateLimitEvent
		if err := rows.Scan(&ev.ID, &ev.TimestampMs, &ev.Model, &ev.ErrorType,
			&ev.ResetTimeMs, &ev.TokensUsedBeforeLimit, &ev.WindowHours); err != nil {
			return nil, fmt.Errorf("scan rate limit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
