package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/models"
	pkglogger "github.com/leafline/marketplace/pkg/logger"
)

const (
	defaultAttemptLimit = 20
	maxAttemptLimit     = 100
)

// AccountService backs the admin lockout endpoints
type AccountService struct {
	users       UserRepository
	attempts    LoginAttemptRepository
	guard       *lockout.Guard
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewAccountService(users UserRepository, attempts LoginAttemptRepository, guard *lockout.Guard, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	return &AccountService{
		users:       users,
		attempts:    attempts,
		guard:       guard,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// GetLockoutStatus reports the current failure count and whether the lock is in force
func (s *AccountService) GetLockoutStatus(ctx context.Context, userID string) (*models.LockoutStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.status(user), nil
}

// Unlock clears the failure counter and lock; the next attempt starts a fresh cycle
func (s *AccountService) Unlock(ctx context.Context, actorID, userID, ipAddress string) (*models.LockoutStatus, error) {
	user, err := s.users.ResetLoginState(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account unlocked by admin",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID))
	s.auditLogger.LogAccountAction(ctx, "account_unlocked", actorID, userID, ipAddress)

	return s.status(user), nil
}

// ListLoginAttempts returns recent attempts for an existing account, newest first
func (s *AccountService) ListLoginAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	if limit > maxAttemptLimit {
		limit = maxAttemptLimit
	}

	return s.attempts.ListRecentByUserID(ctx, userID, limit)
}

func (s *AccountService) status(user *models.User) *models.LockoutStatus {
	state := user.LoginState()
	st := &models.LockoutStatus{
		UserID:         user.ID,
		Email:          user.Email,
		FailedAttempts: state.FailedAttempts,
		Locked:         s.guard.IsLocked(state, s.now()),
	}
	if st.Locked {
		st.LockedUntil = state.LockedUntil
	}
	return st
}
