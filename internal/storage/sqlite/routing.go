package sqlite

import (
	"context"
	"fmt"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/storage"
)

const routingDecisionColumns = `timestamp, session_id, original_provider, routed_provider, routed_model, reason, estimated_savings`

// InsertRoutingDecision appends a record of a routing choice, whether or not
// it moved traffic away from the primary provider.
func (s *Store) InsertRoutingDecision(ctx context.Context, d *cruise.RoutingDecision) error {
	res, err := s.write.ExecContext(ctx, `INSERT INTO routing_decisions (`+routingDecisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.TimestampMs, d.SessionID, d.OriginalProvider, d.RoutedProvider, d.RoutedModel, d.Reason, d.EstimatedSavings,
	)
	if err != nil {
		return fmt.Errorf("insert routing decision: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

// RoutingSavings sums the estimated savings of every recorded routing
// decision over a timeframe, including same-provider model substitutions.
func (s *Store) RoutingSavings(ctx context.Context, tf storage.Timeframe, sessionID string) (float64, error) {
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

	var total float64
	row := s.read.QueryRowContext(ctx, `SELECT COALESCE(SUM(estimated_savings), 0)
		FROM routing_decisions WHERE `+where, arg)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum routing savings: %w", err)
	}
	return total, nil
}
