package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/handlers"
	"github.com/leafline/marketplace/internal/metrics"
	mw "github.com/leafline/marketplace/internal/middleware"
	"github.com/leafline/marketplace/internal/models"
	"github.com/leafline/marketplace/internal/ratelimit"
	pkghttp "github.com/leafline/marketplace/pkg/http"
)

// Dependencies is everything the router needs from main
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler

	TokenManager *auth.TokenManager
	Users        auth.UserTokenKeyFetcher
	Revocations  auth.TokenRevocationChecker

	// AuthLimiter guards the unauthenticated auth endpoints. Each endpoint
	// uses its own scope so budgets are not shared between them.
	AuthLimiter  ratelimit.Limiter
	APIPerMinute int

	IPConfig *pkghttp.IPConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the full middleware stack and route table
func NewRouter(deps Dependencies) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(mw.Instrument(deps.Metrics))
	router.Use(mw.SecureLogger(deps.Logger, deps.IPConfig))
	router.Use(middleware.Recoverer)
	router.Use(mw.SecurityHeaders(mw.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(mw.CORS(mw.DefaultCORSConfig(deps.AllowedOrigins)))
	router.Use(middleware.Timeout(timeout))

	router.Get("/health", deps.HealthHandler.Live)
	router.Get("/ready", deps.HealthHandler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, deps)
	})

	return router
}

// RegisterRoutes registers the versioned API routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	limit := func(scope string) func(http.Handler) http.Handler {
		return mw.FixedWindowRateLimit(mw.FixedWindowConfig{
			Scope:    scope,
			Limiter:  deps.AuthLimiter,
			IPConfig: deps.IPConfig,
			Metrics:  deps.Metrics,
			Logger:   deps.Logger,
		})
	}

	// Public routes, admitted per client address before any handler work
	router.With(limit("login")).Post("/auth/login", deps.AuthHandler.Login)
	router.With(limit("register")).Post("/auth/register", deps.AuthHandler.Register)
	router.With(limit("refresh")).Post("/auth/refresh", deps.AuthHandler.RefreshToken)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Revocations, auth.RevocationConfig{FailClosed: true}, deps.Logger))
		r.Use(mw.RateLimitByUser(deps.APIPerMinute, deps.IPConfig))

		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Get("/auth/me", deps.AuthHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Users, models.RoleAdmin))
			r.Get("/admin/users/{id}/lockout", deps.AdminHandler.GetLockoutStatus)
			r.Post("/admin/users/{id}/unlock", deps.AdminHandler.Unlock)
			r.Get("/admin/users/{id}/login-attempts", deps.AdminHandler.ListLoginAttempts)
		})
	})
}
