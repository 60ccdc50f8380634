package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leafline/marketplace/internal/ratelimit"
)

// TokenCleaner deletes revocation rows whose tokens have expired anyway
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// AttemptCleaner deletes login history past its retention
type AttemptCleaner interface {
	DeleteExpiredAttempts(ctx context.Context) (int64, error)
}

// CleanupManager periodically prunes expired rows and ended limiter windows
type CleanupManager struct {
	tokens   TokenCleaner
	attempts AttemptCleaner
	limiters []ratelimit.Purger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. limiters may be empty when
// a shared backend expires windows on its own.
func NewCleanupManager(
	tokens TokenCleaner,
	attempts AttemptCleaner,
	limiters []ratelimit.Purger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		attempts: attempts,
		limiters: limiters,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one pass immediately and then every interval until ctx is done or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. A failing step does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.tokens != nil {
		cm.runStep(cleanupCtx, "revoked_tokens", cm.tokens.CleanupExpiredTokens)
	}
	if cm.attempts != nil {
		cm.runStep(cleanupCtx, "login_attempts", cm.attempts.DeleteExpiredAttempts)
	}

	now := cm.now()
	purged := 0
	for _, l := range cm.limiters {
		purged += l.Purge(now)
	}
	if purged > 0 {
		cm.logger.Debug("purged rate limit windows", slog.Int("entries", purged))
	}
}

func (cm *CleanupManager) runStep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	rows, err := fn(ctx)
	if err != nil {
		cm.logger.Error("cleanup step failed", slog.String("step", name), slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup step completed", slog.String("step", name), slog.Int64("rows_deleted", rows))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
