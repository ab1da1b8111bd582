package store

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper periodically deletes persisted sessions that have not been
// updated within ttl. It stops when ctx is cancelled. A non-positive ttl
// disables the sweeper.
func StartSweeper(ctx context.Context, repo Repository, ttl time.Duration) {
	if ttl <= 0 || repo == nil {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("Session sweeper started", "ttl", ttl, "interval", interval)
		for {
			select {
			case <-ctx.Done():
				slog.Info("Session sweeper stopped")
				return
			case <-ticker.C:
				sweepOnce(ctx, repo, ttl)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, repo Repository, ttl time.Duration) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := repo.CleanupExpiredSessions(sweepCtx, ttl)
	if err != nil {
		slog.Warn("Session sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Expired sessions removed", "count", n)
	}
}
