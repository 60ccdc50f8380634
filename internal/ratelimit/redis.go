package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript runs check-then-increment atomically on the server.
// A rejected request does not touch the counter.
// Returns {allowed, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
local ttl = redis.call('PTTL', key)

if current == 0 or ttl <= 0 then
  redis.call('SET', key, 1, 'PX', window_ms)
  return {1, 1, window_ms}
end

if current >= limit then
  return {0, current, ttl}
end

current = redis.call('INCR', key)
return {1, current, ttl}
`)

// RedisLimiter enforces the fixed-window budget on a keyspace shared by every instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing counters under "<prefix>:<key>".
func NewRedisLimiter(client redis.UniversalClient, prefix string, cfg Config) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}

	return &RedisLimiter{
		client: client,
		prefix: prefix,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// WithClock replaces the clock used to derive ResetAt.
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Allow consumes one slot for key when budget remains.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(key)},
		l.cfg.MaxRequests, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script result %v", ErrBackendUnavailable, res)
	}

	allowed := res[0] == 1
	count := int(res[1])
	ttl := time.Duration(res[2]) * time.Millisecond
	now := l.now()

	d := Decision{
		Allowed: allowed,
		Limit:   l.cfg.MaxRequests,
		ResetAt: now.Add(ttl),
	}
	if allowed {
		d.Remaining = l.cfg.MaxRequests - count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d, nil
	}

	if ttl > 0 {
		d.RetryAfter = ttl
	}
	return d, nil
}

func (l *RedisLimiter) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
