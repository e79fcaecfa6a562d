package cache

import (
	"context"
	"time"

	"github.com/bassista/go_courses/internal/logger"
)

// StartRefreshScheduler runs a goroutine that periodically reloads the courses with
// a one-shot fetch while no subscription is open. A live subscription already keeps
// the mirror current, so ticks are skipped while it lasts.
// Returns a channel that is closed when the scheduler has stopped.
func StartRefreshScheduler(ctx context.Context, repo Refresher, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		logger.WithComponent("refresh").Debugf("refresh scheduler disabled")
		close(done)
		return done
	}

	logger.WithComponent("refresh").Debugf("starting refresh scheduler with interval: %v", interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("refresh").Info("refresh scheduler stopped")
				return
			case <-ticker.C:
				refresh(ctx, repo)
			}
		}
	}()
	return done
}

func refresh(ctx context.Context, repo Refresher) {
	if repo.HasSubscription() {
		logger.WithComponent("refresh").Tracef("subscription active, skipping refresh")
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}

	res := repo.FetchOnce(ctx)
	if !res.Success {
		logger.WithComponent("refresh").Errorf("refresh failed: %s", res.Error)
		return
	}
	logger.WithComponent("refresh").Debugf("courses refreshed")
}
