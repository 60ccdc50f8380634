package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockUserRepository is a function-field mock for UserRepository
type MockUserRepository struct {
	GetByIDFunc         func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc      func(ctx context.Context, email string) (*models.User, error)
	CreateFunc          func(ctx context.Context, user *models.User) (*models.User, error)
	WithLoginLockFunc   func(ctx context.Context, email string, fn func(*models.User) (lockout.State, error)) error
	ResetLoginStateFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, errors.New("not implemented")
}

func (m *MockUserRepository) WithLoginLock(ctx context.Context, email string, fn func(*models.User) (lockout.State, error)) error {
	if m.WithLoginLockFunc != nil {
		return m.WithLoginLockFunc(ctx, email, fn)
	}
	return models.ErrNotFound
}

func (m *MockUserRepository) ResetLoginState(ctx context.Context, id string) (*models.User, error) {
	if m.ResetLoginStateFunc != nil {
		return m.ResetLoginStateFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// userStore backs MockUserRepository with an in-memory table so login
// state survives across calls the way the row does in Postgres.
type userStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newUserStore(users ...*models.User) (*userStore, *MockUserRepository) {
	s := &userStore{users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}

	repo := &MockUserRepository{
		GetByIDFunc: func(_ context.Context, id string) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u, ok := s.users[id]; ok {
				cp := *u
				return &cp, nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u := s.byEmail(email); u != nil {
				cp := *u
				return &cp, nil
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(_ context.Context, user *models.User) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.byEmail(user.Email) != nil {
				return nil, models.ErrConflict
			}
			cp := *user
			cp.ID = "user-" + user.Email
			cp.TokenKey = "key-" + user.Email
			cp.Status = models.StatusActive
			s.users[cp.ID] = &cp
			out := cp
			return &out, nil
		},
		WithLoginLockFunc: func(_ context.Context, email string, fn func(*models.User) (lockout.State, error)) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			u := s.byEmail(email)
			if u == nil {
				return models.ErrNotFound
			}
			cp := *u
			next, err := fn(&cp)
			if err != nil {
				return err
			}
			u.ApplyLoginState(next)
			return nil
		},
		ResetLoginStateFunc: func(_ context.Context, id string) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			u, ok := s.users[id]
			if !ok {
				return nil, models.ErrNotFound
			}
			u.ApplyLoginState(lockout.State{})
			cp := *u
			return &cp, nil
		},
	}
	return s, repo
}

func (s *userStore) byEmail(email string) *models.User {
	for _, u := range s.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (s *userStore) state(id string) lockout.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].LoginState()
}

// MockLoginAttemptRepository records every attempt it is given
type MockLoginAttemptRepository struct {
	mu       sync.Mutex
	Attempts []*models.LoginAttempt

	RecordAttemptFunc      func(ctx context.Context, attempt *models.LoginAttempt) error
	ListRecentByUserIDFunc func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	m.Attempts = append(m.Attempts, attempt)
	m.mu.Unlock()
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if m.ListRecentByUserIDFunc != nil {
		return m.ListRecentByUserIDFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *MockLoginAttemptRepository) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Attempts))
	for _, a := range m.Attempts {
		out = append(out, a.Outcome)
	}
	return out
}

// MockTokenRevocationRepository keeps revoked JTIs in memory
type MockTokenRevocationRepository struct {
	mu      sync.Mutex
	revoked map[string]string

	RevokeTokenFunc    func(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, tokenType, expiresAt, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = make(map[string]string)
	}
	m.revoked[jti] = reason
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

// plainHasher stands in for bcrypt so tests stay fast
type plainHasher struct {
	mu            sync.Mutex
	compares      int
	dummyCompares int
}

func (h *plainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (h *plainHasher) Compare(hashedPassword, password string) error {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	if hashedPassword != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

func (h *plainHasher) CompareDummy(string) {
	h.mu.Lock()
	h.dummyCompares++
	h.mu.Unlock()
}

// recordingPadder counts padded responses by success flag
type recordingPadder struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (p *recordingPadder) WaitFrom(_ context.Context, _ time.Time, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.successes++
	} else {
		p.failures++
	}
}

// MockLockoutNotifier is a function-field mock for LockoutNotifier
type MockLockoutNotifier struct {
	mu    sync.Mutex
	Calls []time.Time

	NotifyLockoutFunc func(ctx context.Context, user *models.User, until time.Time) error
}

func (m *MockLockoutNotifier) NotifyLockout(ctx context.Context, user *models.User, until time.Time) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, until)
	m.mu.Unlock()
	if m.NotifyLockoutFunc != nil {
		return m.NotifyLockoutFunc(ctx, user, until)
	}
	return nil
}

// MockSESClient is a function-field mock for SESAPI
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{}, nil
}

// NewTestUser creates an active buyer whose password is "correct-horse".
func NewTestUser(id, email string) *models.User {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: "plain:correct-horse",
		Name:         "Test User",
		TokenKey:     "token-key-" + id,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
