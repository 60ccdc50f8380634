package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/background"
	"github.com/leafline/marketplace/internal/config"
	"github.com/leafline/marketplace/internal/database"
	"github.com/leafline/marketplace/internal/handlers"
	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/metrics"
	"github.com/leafline/marketplace/internal/models"
	"github.com/leafline/marketplace/internal/repositories"
	"github.com/leafline/marketplace/internal/routes"
	"github.com/leafline/marketplace/internal/services"
	pkgauth "github.com/leafline/marketplace/pkg/auth"
	pkghttp "github.com/leafline/marketplace/pkg/http"
	pkglogger "github.com/leafline/marketplace/pkg/logger"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("rate_limit_driver", cfg.RateLimit.Driver))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	m.RegisterPoolStats(db.Stats)

	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)

	backend, err := newLimiterBackend(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	guard, err := lockout.NewGuard(lockout.Config{
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		Duration:          cfg.Lockout.Duration,
	})
	if err != nil {
		return err
	}

	notifier, err := newLockoutNotifier(cfg, logger)
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, userRepo)
	hasher := pkgauth.NewPasswordHasher(pkgauth.BcryptCost)
	auditLogger := pkglogger.NewAuditLogger(logger)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Users:       userRepo,
		Attempts:    attemptRepo,
		Revocations: revokeRepo,
		Tokens:      tokenManager,
		Guard:       guard,
		Hasher:      hasher,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay:   cfg.Auth.TimingDelayBase,
			RandomDelay: cfg.Auth.TimingDelayRandom,
		}),
		Notifier:              notifier,
		Metrics:               m,
		Logger:                logger,
		AuditLogger:           auditLogger,
		LoginAttemptRetention: cfg.Auth.LoginAttemptRetention,
	})
	accountService := services.NewAccountService(userRepo, attemptRepo, guard, logger, auditLogger)

	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	checks := map[string]handlers.HealthChecker{"postgres": db}
	if backend.health != nil {
		checks["redis"] = backend.health
	}

	router := routes.NewRouter(routes.Dependencies{
		AuthHandler:    handlers.NewAuthHandler(authService, ipConfig, logger),
		AdminHandler:   handlers.NewAdminHandler(accountService, ipConfig),
		HealthHandler:  handlers.NewHealthHandler(checks, logger),
		TokenManager:   tokenManager,
		Users:          userRepo,
		Revocations:    revokeRepo,
		AuthLimiter:    backend.limiter,
		APIPerMinute:   cfg.RateLimit.APIPerMinute,
		IPConfig:       ipConfig,
		Metrics:        m,
		Logger:         logger,
		Env:            cfg.Server.Env,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	cleanupManager := background.NewCleanupManager(revokeRepo, attemptRepo, backend.purgers, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newLockoutNotifier(cfg *config.Config, logger *slog.Logger) (services.LockoutNotifier, error) {
	if !cfg.Email.LockoutNotificationsEnabled {
		return services.NewLogLockoutNotifier(logger), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := services.NewSESLockoutNotifierFromRegion(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lockout notifier: %w", err)
	}
	return n, nil
}

// adminCreator is the part of the user store needed for bootstrapping
type adminCreator interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, users adminCreator, hasher *pkgauth.PasswordHasher, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := users.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if _, err := users.Create(ctx, &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
