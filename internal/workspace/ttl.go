package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/triage-console/internal/store"
)

const (
	ttlWorkerInterval = 5 * time.Minute

	// turnRetention bounds how long chat history outlives its workspace.
	turnRetention = 7 * 24 * time.Hour
)

// StartTTLWorker runs a background goroutine that periodically drops idle
// workspaces and prunes old chat turns. It stops when ctx is done; the
// returned channel is closed once it has.
func StartTTLWorker(ctx context.Context, reg *Registry, repo store.Repository, ttl time.Duration) <-chan struct{} {
	return startTTLWorker(ctx, reg, repo, ttl, ttlWorkerInterval)
}

func startTTLWorker(ctx context.Context, reg *Registry, repo store.Repository, ttl, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, reg, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, reg *Registry, repo store.Repository, ttl time.Duration) {
	if n := reg.Sweep(ttl); n > 0 {
		slog.Info("TTL worker dropped idle workspaces", "count", n, "remaining", reg.Len())
	}

	if repo == nil {
		return
	}
	deleted, err := repo.CleanupExpiredTurns(ctx, turnRetention)
	switch {
	case err != nil && ctx.Err() != nil:
		slog.Debug("TTL worker: context canceled during turn cleanup", "error", err)
	case err != nil:
		slog.Error("TTL worker failed to cleanup expired turns", "error", err)
	case deleted > 0:
		slog.Info("TTL worker cleaned up expired turns", "count", deleted)
	}
}
