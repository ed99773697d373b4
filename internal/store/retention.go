package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionWorkerInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// sessions and events older than retention. The returned channel closes when the
// worker has stopped after ctx is done.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = retentionWorkerInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepExpired(ctx context.Context, repo Repository, retention time.Duration) {
	sessions, events, err := repo.DeleteExpired(ctx, retention)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted", "error", err)
			return
		}
		slog.Error("Retention worker failed to delete expired records", "error", err)
		return
	}
	if sessions > 0 || events > 0 {
		slog.Info("Retention worker cleanup completed", "sessions", sessions, "events", events)
	}
}
