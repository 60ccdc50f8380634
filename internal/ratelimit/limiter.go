package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkghttp "github.com/leafline/marketplace/pkg/http"
)

var (
	// ErrInvalidConfig is returned at construction time for unusable limiter settings.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")

	// ErrBackendUnavailable indicates a shared limiter backend could not be reached.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Config describes a fixed-window request budget.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Validate reports whether the budget can be enforced.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive (got %d)", ErrInvalidConfig, c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive (got %s)", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when Allowed
}

// RetryAfterSeconds is RetryAfter in whole seconds, rounded up the same way as
// every other Retry-After the API writes.
func (d Decision) RetryAfterSeconds() int {
	return pkghttp.RetryAfterSeconds(d.RetryAfter)
}

// Limiter is what the HTTP boundary consults once per request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Purger is implemented by limiters that keep their table in process memory.
type Purger interface {
	Purge(now time.Time) int
}
