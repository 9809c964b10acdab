package background

import (
	"context"
	"log/slog"
	"time"
)

// expiredRetention keeps expired verification tokens around for a day so a
// late click still reads as "expired" rather than "unknown" in the logs.
const expiredRetention = 24 * time.Hour

// ExpiredTokenCleaner deletes verification tokens that expired before now-retention
type ExpiredTokenCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically removes expired email verification tokens
type CleanupManager struct {
	tokens   ExpiredTokenCleaner
	logger   *slog.Logger
	interval time.Duration
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tokens ExpiredTokenCleaner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		logger:   logger,
		interval: interval,
	}
}

// Run cleans up once immediately, then every interval until ctx is done.
// It always returns nil so it can share an errgroup with the server.
func (cm *CleanupManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-ctx.Done():
			cm.logger.Info("cleanup manager stopped")
			return nil
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.tokens.CleanupExpired(cleanupCtx, expiredRetention)
	if err != nil {
		cm.logger.Error("failed to cleanup expired verification tokens", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired verification token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}
