package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leafline/marketplace/internal/config"
	"github.com/leafline/marketplace/internal/handlers"
	"github.com/leafline/marketplace/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// limiterBackend is the admission limiter selected by RATE_LIMIT_DRIVER
type limiterBackend struct {
	limiter ratelimit.Limiter
	purgers []ratelimit.Purger
	health  handlers.HealthChecker
	close   func()
}

func (b *limiterBackend) Close() {
	if b.close != nil {
		b.close()
	}
}

func newLimiterBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*limiterBackend, error) {
	rlCfg := ratelimit.Config{
		MaxRequests: cfg.RateLimit.LoginMaxRequests,
		Window:      cfg.RateLimit.LoginWindow,
	}

	switch cfg.RateLimit.Driver {
	case config.RateLimitDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		limiter, err := ratelimit.NewRedisLimiter(client, cfg.Redis.KeyPrefix, rlCfg)
		if err != nil {
			_ = client.Close()
			return nil, err
		}

		// An unreachable Redis at boot is not fatal; the limiter admits until it recovers.
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, rate limiting will fail open", slog.Any("error", err))
		}

		logger.Info("using redis rate limiter", slog.String("addr", cfg.Redis.Addr))
		return &limiterBackend{
			limiter: limiter,
			health: handlers.HealthCheckFunc(func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}),
			close: func() { _ = client.Close() },
		}, nil

	case config.RateLimitDriverMemory:
		limiter, err := ratelimit.NewFixedWindowLimiter(rlCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using in-memory rate limiter")
		return &limiterBackend{limiter: limiter, purgers: []ratelimit.Purger{limiter}}, nil

	default:
		return nil, fmt.Errorf("unknown rate limit driver %q", cfg.RateLimit.Driver)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
