package sqlite

import (
	"context"
	"fmt"
)

// Cleanup deletes usage_logs rows older than retentionDays, returning the
// number of rows removed. rate_limit_events and routing_decisions are
// write-once history and are never pruned. The RetentionWorker calls this
// on a daily tick.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := nowMs() - int64(retentionDays)*86_400_000

	res, err := s.write.ExecContext(ctx, `DELETE FROM usage_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup usage_logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup usage_logs: rows affected: %w", err)
	}
	return n, nil
}

// Vacuum reclaims disk space after Cleanup. Run on the write connection:
// VACUUM requires exclusive access to the database.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.write.ExecContext(ctx, `VACUUM`)
	if err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
