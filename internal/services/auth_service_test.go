package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/metrics"
	"github.com/leafline/marketplace/internal/models"
	pkgauth "github.com/leafline/marketplace/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-32-characters-long!!"

var loginT0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type authHarness struct {
	svc         *AuthService
	store       *userStore
	repo        *MockUserRepository
	attempts    *MockLoginAttemptRepository
	revocations *MockTokenRevocationRepository
	hasher      *plainHasher
	padder      *recordingPadder
	notifier    *MockLockoutNotifier
	metrics     *metrics.Metrics
	tm          *auth.TokenManager
	now         time.Time
}

func (h *authHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func newAuthHarness(t *testing.T, maxAttempts int, lockFor time.Duration, users ...*models.User) *authHarness {
	t.Helper()

	guard, err := lockout.NewGuard(lockout.Config{MaxFailedAttempts: maxAttempts, Duration: lockFor})
	require.NoError(t, err)

	h := &authHarness{
		attempts:    &MockLoginAttemptRepository{},
		revocations: &MockTokenRevocationRepository{},
		hasher:      &plainHasher{},
		padder:      &recordingPadder{},
		notifier:    &MockLockoutNotifier{},
		metrics:     metrics.New(prometheus.NewRegistry()),
		now:         loginT0,
	}
	h.store, h.repo = newUserStore(users...)
	clock := func() time.Time { return h.now }
	h.tm = auth.NewTokenManager(testJWTSecret, 15*time.Minute, 7*24*time.Hour, h.repo).WithClock(clock)

	h.svc = NewAuthService(AuthServiceDeps{
		Users:                 h.repo,
		Attempts:              h.attempts,
		Revocations:           h.revocations,
		Tokens:                h.tm,
		Guard:                 guard,
		Hasher:                h.hasher,
		Timing:                h.padder,
		Notifier:              h.notifier,
		Metrics:               h.metrics,
		Logger:                discardLogger(),
		LoginAttemptRetention: 24 * time.Hour,
		Now:                   clock,
	})
	return h
}

func login(h *authHarness, email, password string) (*AuthResponse, error) {
	return h.svc.Login(context.Background(), LoginRequest{
		Email:     email,
		Password:  password,
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	})
}

func TestAuthService_Login_Success(t *testing.T) {
	user := NewTestUser("u1", "buyer@example.com")
	h := newAuthHarness(t, 5, 30*time.Minute, user)

	resp, err := login(h, "  Buyer@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "u1", resp.User.ID)

	claims, err := h.tm.ValidateToken(context.Background(), resp.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	assert.Equal(t, []string{models.AttemptSucceeded}, h.attempts.outcomes())
	require.NotNil(t, h.attempts.Attempts[0].UserID)
	assert.Equal(t, "u1", *h.attempts.Attempts[0].UserID)
	assert.Equal(t, loginT0.Add(24*time.Hour), h.attempts.Attempts[0].ExpiresAt)
	assert.Equal(t, 1, h.padder.successes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LoginAttempts.WithLabelValues(models.AttemptSucceeded)))
}

func TestAuthService_Login_SuccessResetsFailures(t *testing.T) {
	user := NewTestUser("u1", "buyer@example.com")
	user.FailedLoginAttempts = 3
	h := newAuthHarness(t, 5, 30*time.Minute, user)

	_, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, lockout.State{}, h.store.state("u1"))
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	h := newAuthHarness(t, 5, 30*time.Minute, NewTestUser("u1", "buyer@example.com"))

	resp, err := login(h, "buyer@example.com", "wrong")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, 1, h.store.state("u1").FailedAttempts)
	assert.Equal(t, []string{models.AttemptInvalidCredentials}, h.attempts.outcomes())
	assert.Equal(t, 1, h.padder.failures)
}

func TestAuthService_Login_LockoutLifecycle(t *testing.T) {
	h := newAuthHarness(t, 5, 30*time.Minute, NewTestUser("u1", "buyer@example.com"))

	for i := 1; i <= 4; i++ {
		_, err := login(h, "buyer@example.com", "wrong")
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i)
		h.advance(10 * time.Second)
	}

	lockedAt := h.now
	_, err := login(h, "buyer@example.com", "wrong")
	var lockedErr *models.AccountLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.Equal(t, lockedAt.Add(30*time.Minute), lockedErr.Until)
	assert.Len(t, h.notifier.Calls, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Lockouts))

	// Correct password during the lock: refused without a hash comparison.
	comparesBefore := h.hasher.compares
	h.now = lockedAt.Add(29 * time.Minute)
	_, err = login(h, "buyer@example.com", "correct-horse")
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, time.Minute, lockedErr.RetryAfter(h.now))
	assert.Equal(t, comparesBefore, h.hasher.compares)
	assert.Len(t, h.notifier.Calls, 1, "lock must not be re-announced")

	// After expiry a failure starts a fresh cycle.
	h.now = lockedAt.Add(31 * time.Minute)
	_, err = login(h, "buyer@example.com", "wrong")
	require.ErrorIs(t, err, models.ErrInvalidCredentials)
	st := h.store.state("u1")
	assert.Equal(t, 1, st.FailedAttempts)
	assert.Nil(t, st.LockedUntil)

	assert.Equal(t, []string{
		models.AttemptInvalidCredentials,
		models.AttemptInvalidCredentials,
		models.AttemptInvalidCredentials,
		models.AttemptInvalidCredentials,
		models.AttemptAccountLocked,
		models.AttemptAccountLocked,
		models.AttemptInvalidCredentials,
	}, h.attempts.outcomes())
}

func TestAuthService_Login_CorrectPasswordAfterExpiry(t *testing.T) {
	user := NewTestUser("u1", "buyer@example.com")
	until := loginT0
	user.FailedLoginAttempts = 5
	user.LockedUntil = &until
	h := newAuthHarness(t, 5, 30*time.Minute, user)

	_, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, lockout.State{}, h.store.state("u1"))
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	h := newAuthHarness(t, 5, 30*time.Minute)

	_, err := login(h, "ghost@example.com", "whatever")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, 1, h.hasher.dummyCompares)
	assert.Equal(t, []string{models.AttemptUnknownAccount}, h.attempts.outcomes())
	assert.Nil(t, h.attempts.Attempts[0].UserID)
	assert.Equal(t, 1, h.padder.failures)
}

func TestAuthService_Login_EmptyEmail(t *testing.T) {
	h := newAuthHarness(t, 5, 30*time.Minute)

	_, err := login(h, "   ", "whatever")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Empty(t, h.attempts.outcomes())
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	for _, status := range []string{models.StatusSuspended, models.StatusDisabled} {
		t.Run(status, func(t *testing.T) {
			user := NewTestUser("u1", "buyer@example.com")
			user.Status = status
			user.FailedLoginAttempts = 2
			h := newAuthHarness(t, 5, 30*time.Minute, user)

			_, err := login(h, "buyer@example.com", "correct-horse")
			assert.ErrorIs(t, err, models.ErrInvalidCredentials)
			assert.Equal(t, 0, h.hasher.compares)
			assert.Equal(t, 1, h.hasher.dummyCompares)
			assert.Equal(t, 2, h.store.state("u1").FailedAttempts)
			assert.Equal(t, []string{models.AttemptAccountInactive}, h.attempts.outcomes())
		})
	}
}

func TestAuthService_Login_NotifierFailureDoesNotBlockLock(t *testing.T) {
	h := newAuthHarness(t, 1, time.Hour, NewTestUser("u1", "buyer@example.com"))
	h.notifier.NotifyLockoutFunc = func(context.Context, *models.User, time.Time) error {
		return errors.New("ses throttled")
	}

	_, err := login(h, "buyer@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.NotNil(t, h.store.state("u1").LockedUntil)
}

func TestAuthService_Login_AttemptStoreFailureIsLogged(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))
	h.attempts.RecordAttemptFunc = func(context.Context, *models.LoginAttempt) error {
		return errors.New("insert failed")
	}

	_, err := login(h, "buyer@example.com", "correct-horse")
	assert.NoError(t, err)
}

func TestAuthService_Login_RepositoryError(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour)
	h.repo.WithLoginLockFunc = func(context.Context, string, func(*models.User) (lockout.State, error)) error {
		return errors.New("connection reset")
	}

	_, err := login(h, "buyer@example.com", "correct-horse")
	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.Empty(t, h.attempts.outcomes())
}

func TestAuthService_Login_ConcurrentFailuresLockOnce(t *testing.T) {
	h := newAuthHarness(t, 5, 30*time.Minute, NewTestUser("u1", "buyer@example.com"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = login(h, "buyer@example.com", "wrong")
		}()
	}
	wg.Wait()

	st := h.store.state("u1")
	assert.Equal(t, 5, st.FailedAttempts)
	require.NotNil(t, st.LockedUntil)
	assert.Len(t, h.notifier.Calls, 1)
	assert.Equal(t, 5, h.hasher.compares)
}

func TestAuthService_RefreshToken_Rotates(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))
	ctx := context.Background()

	first, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)

	h.advance(time.Second)
	second, err := h.svc.RefreshToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The rotated token cannot be replayed.
	_, err = h.svc.RefreshToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_RefreshToken_RejectsAccessToken(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))

	resp, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = h.svc.RefreshToken(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = h.svc.RefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_RefreshToken_LockedAccount(t *testing.T) {
	h := newAuthHarness(t, 2, time.Hour, NewTestUser("u1", "buyer@example.com"))
	ctx := context.Background()

	resp, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = login(h, "buyer@example.com", "wrong")
	}

	_, err = h.svc.RefreshToken(ctx, resp.RefreshToken)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestAuthService_RefreshToken_RevocationStoreError(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))

	resp, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)

	h.revocations.IsTokenRevokedFunc = func(context.Context, string) (bool, error) {
		return false, errors.New("db down")
	}
	_, err = h.svc.RefreshToken(context.Background(), resp.RefreshToken)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestAuthService_Register(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour)
	ctx := context.Background()

	resp, err := h.svc.Register(ctx, " New@Example.com ", "Gr0wer-Strong-Pass!", "Nia", models.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.Equal(t, models.RoleSeller, resp.User.Role)
	assert.NotEmpty(t, resp.AccessToken)

	_, err = h.svc.Register(ctx, "new@example.com", "Gr0wer-Strong-Pass!", "Nia", "")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAuthService_Register_Rejections(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@example.com", "Gr0wer-Strong-Pass!", "A", models.RoleAdmin)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = h.svc.Register(ctx, "a@example.com", "short", "A", "")
	var pwErr *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &pwErr)
}

func TestAuthService_Logout(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))
	ctx := context.Background()

	resp, err := login(h, "buyer@example.com", "correct-horse")
	require.NoError(t, err)

	claims, err := h.tm.ValidateToken(ctx, resp.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, claims, resp.RefreshToken))

	revoked, err := h.revocations.IsTokenRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = h.svc.RefreshToken(ctx, resp.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_Me(t *testing.T) {
	h := newAuthHarness(t, 5, time.Hour, NewTestUser("u1", "buyer@example.com"))

	me, err := h.svc.Me(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", me.Email)

	_, err = h.svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
