package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is implemented by the session manager.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// StartSessionSweeper re-checks session expiry every interval until ctx is done. The returned
// channel is closed once the loop has exited.
func StartSessionSweeper(ctx context.Context, sweeper Sweeper, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if sweeper == nil || interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("session sweeper started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				logger.Info("session sweeper stopped")
				return
			case <-ticker.C:
				if err := sweeper.Sweep(ctx); err != nil {
					logger.Warn("session sweep failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}
