package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/metrics"
	"github.com/leafline/marketplace/internal/models"
	pkgauth "github.com/leafline/marketplace/pkg/auth"
	pkglogger "github.com/leafline/marketplace/pkg/logger"
)

// UserRepository is the account store used by the auth and account services
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	WithLoginLock(ctx context.Context, email string, fn func(*models.User) (lockout.State, error)) error
	ResetLoginState(ctx context.Context, id string) (*models.User, error)
}

// LoginAttemptRepository stores the login history
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	ListRecentByUserID(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// PasswordHasher is satisfied by *pkgauth.PasswordHasher
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
	CompareDummy(password string)
}

// ResponsePadder is satisfied by *auth.TimingDelay
type ResponsePadder interface {
	WaitFrom(ctx context.Context, start time.Time, success bool)
}

// AuthServiceDeps groups the collaborators of AuthService
type AuthServiceDeps struct {
	Users                 UserRepository
	Attempts              LoginAttemptRepository
	Revocations           TokenRevocationRepository
	Tokens                *auth.TokenManager
	Guard                 *lockout.Guard
	Hasher                PasswordHasher
	Timing                ResponsePadder
	Notifier              LockoutNotifier
	Metrics               *metrics.Metrics
	Logger                *slog.Logger
	AuditLogger           *pkglogger.AuditLogger
	LoginAttemptRetention time.Duration
	Now                   func() time.Time
}

// AuthService handles authentication business logic
type AuthService struct {
	users       UserRepository
	attempts    LoginAttemptRepository
	revocations TokenRevocationRepository
	tm          *auth.TokenManager
	guard       *lockout.Guard
	hasher      PasswordHasher
	timing      ResponsePadder
	notifier    LockoutNotifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	retention   time.Duration
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthServiceDeps) *AuthService {
	s := &AuthService{
		users:       deps.Users,
		attempts:    deps.Attempts,
		revocations: deps.Revocations,
		tm:          deps.Tokens,
		guard:       deps.Guard,
		hasher:      deps.Hasher,
		timing:      deps.Timing,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		auditLogger: deps.AuditLogger,
		retention:   deps.LoginAttemptRetention,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.auditLogger == nil {
		s.auditLogger = pkglogger.NewAuditLogger(s.logger)
	}
	if s.notifier == nil {
		s.notifier = NewLogLockoutNotifier(s.logger)
	}
	if s.retention <= 0 {
		s.retention = 30 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	models.TokenPair
	User *UserResponse `json:"user"`
}

// LoginRequest carries the credentials plus the caller context recorded with the attempt
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// Login checks credentials under the account lockout policy.
//
// The account row stays locked for the whole evaluation so concurrent attempts
// against one account are applied one at a time. While the account is locked the
// password is not checked at all. Errors: models.ErrInvalidCredentials for a bad
// password, unknown email or inactive account; *models.AccountLockedError while locked.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, models.ErrInvalidCredentials
	}
	req.Email = email

	var (
		user     *models.User
		result   lockout.Result
		inactive bool
	)

	err := s.users.WithLoginLock(ctx, email, func(u *models.User) (lockout.State, error) {
		user = u
		now := s.now()
		state := u.LoginState()

		if u.Status != models.StatusActive {
			inactive = true
			s.hasher.CompareDummy(req.Password)
			return state, nil
		}

		if s.guard.IsLocked(state, now) {
			result = s.guard.Evaluate(state, false, now)
			return result.Next, nil
		}

		valid := s.hasher.Compare(u.PasswordHash, req.Password) == nil
		result = s.guard.Evaluate(state, valid, now)
		return result.Next, nil
	})

	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.hasher.CompareDummy(req.Password)
			s.finishFailure(ctx, start, req, nil, models.AttemptUnknownAccount)
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("login state transaction failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	if inactive {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.finishFailure(ctx, start, req, user, models.AttemptAccountInactive)
		return nil, models.ErrInvalidCredentials
	}

	switch result.Outcome {
	case lockout.OutcomeAuthenticated:
		pair, err := s.tm.IssuePair(user)
		if err != nil {
			s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.record(ctx, req, user, models.AttemptSucceeded)
		s.timing.WaitFrom(ctx, start, true)
		s.logger.Info("user logged in", slog.String("user_id", user.ID))
		return &AuthResponse{TokenPair: *pair, User: userModelToResponse(user)}, nil

	case lockout.OutcomeAccountLocked:
		until := *result.Next.LockedUntil
		if result.NewlyLocked {
			s.onLockout(ctx, req, user, until)
		}
		s.finishFailure(ctx, start, req, user, models.AttemptAccountLocked)
		return nil, &models.AccountLockedError{Until: until}

	default:
		s.finishFailure(ctx, start, req, user, models.AttemptInvalidCredentials)
		return nil, models.ErrInvalidCredentials
	}
}

func (s *AuthService) onLockout(ctx context.Context, req LoginRequest, user *models.User, until time.Time) {
	s.metrics.ObserveLockout()
	s.auditLogger.LogLockout(ctx, user.ID, user.Email, req.IPAddress, until)

	if err := s.notifier.NotifyLockout(ctx, user, until); err != nil {
		s.logger.Error("failed to send lockout notification",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}
}

func (s *AuthService) finishFailure(ctx context.Context, start time.Time, req LoginRequest, user *models.User, outcome string) {
	s.record(ctx, req, user, outcome)
	s.timing.WaitFrom(ctx, start, false)
}

// record stores, audits and counts one attempt. Storage errors are logged only.
func (s *AuthService) record(ctx context.Context, req LoginRequest, user *models.User, outcome string) {
	now := s.now()
	attempt := &models.LoginAttempt{
		Email:       req.Email,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Outcome:     outcome,
		AttemptedAt: now,
		ExpiresAt:   now.Add(s.retention),
	}
	userID := ""
	if user != nil {
		userID = user.ID
		attempt.UserID = &userID
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}

	s.metrics.ObserveLogin(outcome)
	s.auditLogger.LogLoginAttempt(ctx, pkglogger.LoginAuditEvent{
		Email:     req.Email,
		UserID:    userID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Outcome:   outcome,
		Success:   outcome == models.AttemptSucceeded,
	})
}

// RefreshToken rotates a refresh token into a new pair. Locked or inactive
// accounts cannot refresh.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check refresh token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.logger.Warn("revoked refresh token presented", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.Status != models.StatusActive {
		return nil, models.ErrUnauthorized
	}

	state := user.LoginState()
	if s.guard.IsLocked(state, s.now()) {
		return nil, &models.AccountLockedError{Until: *state.LockedUntil}
	}

	if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tm.IssuePair(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return &AuthResponse{TokenPair: *pair, User: userModelToResponse(user)}, nil
}

// Register creates a new buyer or seller account
func (s *AuthService) Register(ctx context.Context, email, password, name, role string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleSeller {
		return nil, fmt.Errorf("%w: role must be user or seller", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tm.IssuePair(created)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", created.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID), slog.String("role", created.Role))
	s.auditLogger.LogAccountAction(ctx, "user_registered", created.ID, created.ID, "")

	return &AuthResponse{TokenPair: *pair, User: userModelToResponse(created)}, nil
}

// Logout revokes the access token in claims and, when given, the caller's refresh token
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		rc, err := s.tm.ValidateToken(ctx, refreshToken, models.TokenTypeRefresh)
		if err == nil && rc.UserID == claims.UserID {
			if err := s.revocations.RevokeToken(ctx, rc.ID, rc.UserID, rc.Type, rc.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Error("failed to revoke refresh token", slog.String("jti", rc.ID), slog.Any("error", err))
				return models.ErrInternalServer
			}
		}
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// Me returns the profile of the authenticated account
func (s *AuthService) Me(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userModelToResponse(user), nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}
