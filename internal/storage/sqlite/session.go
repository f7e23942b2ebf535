package sqlite

import (
	"context"
	"fmt"

	cruise "github.com/cruisehq/cruise/internal"
)

// CreateSession inserts the process's session row. There is exactly one open
// session at a time; the session_id comes from the caller
// ("session_<start-ms>", minted at process startup).
func (s *Store) CreateSession(ctx context.Context, sess *cruise.Session) error {
	_, err := s.write.ExecContext(ctx, `INSERT INTO sessions
		(session_id, started_at, ended_at, total_cost, total_tokens, project_path)
		VALUES (?, ?, 0, 0, 0, ?)`,
		sess.SessionID, sess.StartedAtMs, sess.ProjectPath,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CloseSession stamps a session's end time and final totals on shutdown.
func (s *Store) CloseSession(ctx context.Context, sessionID string, endedAtMs int64, totalCost float64, totalTokens int64) error {
	_, err := s.write.ExecContext(ctx, `UPDATE sessions
		SET ended_at = ?, total_cost = ?, total_tokens = ? WHERE session_id = ?`,
		endedAtMs, totalCost, totalTokens, sessionID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
