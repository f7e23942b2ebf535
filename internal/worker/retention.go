package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cruisehq/cruise/internal/storage"
)

const retentionInterval = 24 * time.Hour

// RetentionStore is the persistence interface consumed by RetentionWorker.
type RetentionStore interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	Vacuum(ctx context.Context) error
}

// RetentionWorker periodically deletes ledger rows older than
// RetentionDays and reclaims the freed pages. Grounded on
// internal/worker/usage_rollup.go's periodic-ticker shape, repurposed from
// rollup aggregation to ledger pruning.
type RetentionWorker struct {
	store         RetentionStore
	retentionDays int
}

// NewRetentionWorker creates a RetentionWorker. retentionDays of 0 or less
// disables pruning: neither Cleanup nor Vacuum is called.
func NewRetentionWorker(store storage.Store, retentionDays int) *RetentionWorker {
	return &RetentionWorker{store: store, retentionDays: retentionDays}
}

// Name returns the worker identifier.
func (w *RetentionWorker) Name() string { return "retention" }

// Run prunes the ledger once at startup, then once a day until ctx is
// cancelled.
func (w *RetentionWorker) Run(ctx context.Context) error {
	w.prune(ctx)

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *RetentionWorker) prune(ctx context.Context) {
	if w.retentionDays <= 0 {
		return
	}
	deleted, err := w.store.Cleanup(ctx, w.retentionDays)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "retention cleanup failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if deleted > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "retention cleanup",
			slog.Int64("deleted", deleted),
		)
	}
	if err := w.store.Vacuum(ctx); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "retention vacuum failed",
			slog.String("error", err.Error()),
		)
	}
}
