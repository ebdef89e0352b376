package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"semaphore/liveclass/internal/config"
	"semaphore/liveclass/internal/metrics"
)

// Sweeper cancels waiting room entries whose deadline has passed.
type Sweeper interface {
	ExpireWaitingEntries(ctx context.Context) (int64, error)
}

// RunCleanup performs one sweep and reports how many entries were cancelled.
func RunCleanup(ctx context.Context, sweeper Sweeper, timeout time.Duration, logger *zap.Logger) (int64, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	expired, err := sweeper.ExpireWaitingEntries(tickCtx)
	if err != nil {
		logger.Error("waiting room cleanup failed", zap.Error(err))
		return 0, err
	}
	if expired > 0 {
		metrics.WaitingEntriesExpired.Add(float64(expired))
		logger.Info("waiting room cleanup expired entries", zap.Int64("expired", expired))
	}
	return expired, nil
}

func StartCleanupJob(ctx context.Context, cfg config.Config, sweeper Sweeper, logger *zap.Logger) {
	if !cfg.CleanupJobEnabled {
		return
	}
	if sweeper == nil {
		logger.Warn("cleanup job disabled: no sweeper configured")
		return
	}
	interval := cfg.CleanupJobInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = RunCleanup(ctx, sweeper, cfg.CleanupJobTimeout, logger)
			}
		}
	}()
}
