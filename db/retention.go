package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultPruneInterval is how often StartPruning runs.
const DefaultPruneInterval = 24 * time.Hour

// PruneResult summarizes one retention pass.
type PruneResult struct {
	Deleted  int64
	Duration time.Duration
}

// Prune deletes records created more than retention ago and vacuums the
// file when anything was removed.
func (h *History) Prune(ctx context.Context, retention time.Duration) (PruneResult, error) {
	start := time.Now()
	if retention < 0 {
		return PruneResult{}, fmt.Errorf("retention must be non-negative, got %v", retention)
	}
	conn := h.store.DB()
	if conn == nil {
		return PruneResult{}, ErrClosed
	}

	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := conn.ExecContext(ctx, "DELETE FROM generation_history WHERE created_at < ?", cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("failed to prune generation history: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return PruneResult{}, fmt.Errorf("failed to count pruned rows: %w", err)
	}

	if deleted > 0 {
		if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
			return PruneResult{Deleted: deleted}, fmt.Errorf("failed to vacuum: %w", err)
		}
	}
	return PruneResult{Deleted: deleted, Duration: time.Since(start)}, nil
}

// StartPruning runs Prune immediately and then every interval until ctx is
// cancelled. A retention of 0 disables pruning.
func (h *History) StartPruning(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	run := func() {
		result, err := h.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Error("history prune failed", zap.Error(err))
			}
			return
		}
		if result.Deleted > 0 {
			h.logger.Info("history pruned",
				zap.Int64("deleted", result.Deleted),
				zap.Duration("duration", result.Duration))
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
