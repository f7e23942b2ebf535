package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/storage"
)

const usageLogColumns = `timestamp, session_id, model, provider, input_tokens, output_tokens,
	cache_read_tokens, cache_write_tokens, cost_usd, latency_ms, success, error_type,
	project_path, routed_from, routing_reason`

// InsertUsageLog appends a usage log row and adds its cost and tokens to the
// owning session's running totals.
func (s *Store) InsertUsageLog(ctx context.Context, l *cruise.UsageLog) error {
	res, err := s.write.ExecContext(ctx, `INSERT INTO usage_logs (`+usageLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.TimestampMs, l.SessionID, l.Model, l.Provider, l.InputTokens, l.OutputTokens,
		l.CacheReadTokens, l.CacheWriteTokens, l.CostUSD, l.LatencyMs, boolToInt(l.Success), l.ErrorType,
		l.ProjectPath, l.RoutedFrom, l.RoutingReason,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	if _, err := s.write.ExecContext(ctx, `UPDATE sessions
		SET total_cost = total_cost + ?, total_tokens = total_tokens + ? WHERE session_id = ?`,
		l.CostUSD, l.InputTokens+l.OutputTokens, l.SessionID,
	); err != nil {
		return fmt.Errorf("update session totals: %w", err)
	}
	return nil
}

func scanUsageLogs(rows *sql.Rows) ([]cruise.UsageLog, error) {
	defer rows.Close()
	var out []cruise.UsageLog
	for rows.Next() {
		var l cruise.UsageLog
		var success int
		if err := rows.Scan(&l.ID, &l.TimestampMs, &l.SessionID, &l.Model, &l.Provider,
			&l.InputTokens, &l.OutputTokens, &l.CacheReadTokens, &l.CacheWriteTokens,
			&l.CostUSD, &l.LatencyMs, &success, &l.ErrorType,
			&l.ProjectPath, &l.RoutedFrom, &l.RoutingReason); err != nil {
			return nil, fmt.Errorf("scan usage log: %w", err)
		}
		l.Success = success != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// WindowUsageLogs returns usage logs from the last `hours` hours, oldest first.
func (s *Store) WindowUsageLogs(ctx context.Context, hours int) ([]cruise.UsageLog, error) {
	cutoff := nowMs() - int64(hours)*3600_000
	rows, err := s.read.QueryContext(ctx, `SELECT id, `+usageLogColumns+`
		FROM usage_logs WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query window usage logs: %w", err)
	}
	return scanUsageLogs(rows)
}

// SessionUsageLogs returns all usage logs for a session, oldest first.
func (s *Store) SessionUsageLogs(ctx context.Context, sessionID string) ([]cruise.UsageLog, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id, `+usageLogColumns+`
		FROM usage_logs WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session usage logs: %w", err)
	}
	return scanUsageLogs(rows)
}

// TodayUsageLogs returns usage logs recorded since the start of the current
// UTC day, oldest first.
func (s *Store) TodayUsageLogs(ctx context.Context) ([]cruise.UsageLog, error) {
	cutoff := startOfTodayMs()
	rows, err := s.read.QueryContext(ctx, `SELECT id, `+usageLogColumns+`
		FROM usage_logs WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query today usage logs: %w", err)
	}
	return scanUsageLogs(rows)
}

// TotalUsage aggregates tokens, cost, and request count over a timeframe.
func (s *Store) TotalUsage(ctx context.Context, tf storage.Timeframe, sessionID string) (storage.UsageTotals, error) {
	var where string
	var arg any
	switch tf {
	case storage.TimeframeSession:
		where, arg = "session_id = ?", sessionID
	case storage.TimeframeToday:
		where, arg = "timestamp >= ?", startOfTodayMs()
	default:
		where, arg = "1 = ?", 1
	}

	var totals storage.UsageTotals
	row := s.read.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cost_usd), 0), COUNT(*)
		FROM usage_logs WHERE `+where, arg)
	if err := row.Scan(&totals.InputTokens, &totals.OutputTokens, &totals.CostUSD, &totals.RequestCount); err != nil {
		return storage.UsageTotals{}, fmt.Errorf("aggregate usage totals: %w", err)
	}
	return totals, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
