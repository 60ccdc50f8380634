package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/metrics"
	"github.com/leafline/marketplace/internal/ratelimit"
	pkghttp "github.com/leafline/marketplace/pkg/http"
)

// FixedWindowConfig wires a fixed-window limiter in front of one route scope
type FixedWindowConfig struct {
	Scope    string
	Limiter  ratelimit.Limiter
	IPConfig *pkghttp.IPConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// RateLimitKey builds the limiter key for a client address within a scope.
// Requests whose address cannot be determined share the "unknown" bucket.
func RateLimitKey(scope, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return scope + "|ip:" + ip
}

// FixedWindowRateLimit consults the limiter once per request before the handler runs.
// Rejected requests get 429 with Retry-After and never reach the handler. If a shared
// backend is unreachable the request is admitted and the failure logged.
func FixedWindowRateLimit(cfg FixedWindowConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RateLimitKey(cfg.Scope, pkghttp.ExtractClientIP(r, cfg.IPConfig))

			d, err := cfg.Limiter.Allow(r.Context(), key)
			cfg.Metrics.ObserveRateLimit(cfg.Scope, d.Allowed, err)
			if err != nil {
				logger.Error("rate limiter unavailable, admitting request",
					slog.String("scope", cfg.Scope),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, d)

			if !d.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("scope", cfg.Scope),
					slog.String("key", key),
					slog.Int64("retry_after_ms", d.RetryAfter.Milliseconds()))
				pkghttp.WriteRateLimited(w, d.RetryAfterSeconds())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// RateLimitByIP applies a coarse per-minute budget keyed by client address
func RateLimitByIP(requestsPerMinute int, ipCfg *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipCfg), nil
		}),
		httprate.WithLimitHandler(writeHTTPRateLimited),
	)
}

// RateLimitByUser keys the budget on the authenticated user, falling back to
// the client address when no claims are present.
func RateLimitByUser(requestsPerMinute int, ipCfg *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipCfg), nil
		}),
		httprate.WithLimitHandler(writeHTTPRateLimited),
	)
}

// httprate has already set Retry-After on w.
func writeHTTPRateLimited(w http.ResponseWriter, _ *http.Request) {
	secs, _ := strconv.Atoi(w.Header().Get("Retry-After"))
	pkghttp.WriteRateLimited(w, secs)
}
