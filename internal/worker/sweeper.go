package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OutboxSweeper submits jobs whose enqueue never reached the queue.
type OutboxSweeper interface {
	SweepOutbox(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// SweeperConfig controls RunSweeper.
type SweeperConfig struct {
	Interval time.Duration
	Grace    time.Duration
	Batch    int
}

// RunSweeper calls SweepOutbox every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, s OutboxSweeper, cfg SweeperConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox sweeper stopping")
			return
		case <-ticker.C:
			n, err := s.SweepOutbox(ctx, cfg.Grace, cfg.Batch)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("outbox sweep failed", zap.Error(err), zap.Int("swept", n))
				}
				continue
			}
			if n > 0 {
				logger.Info("outbox entries resubmitted", zap.Int("count", n))
			}
		}
	}
}
