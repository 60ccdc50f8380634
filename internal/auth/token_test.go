package auth

import (
	"context"
	"testing"
	"time"

	"github.com/leafline/marketplace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-characters-long!!"

// MockUserFetcher is a function-field mock for UserTokenKeyFetcher
type MockUserFetcher struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserFetcher) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func fetcherFor(users ...*models.User) *MockUserFetcher {
	return &MockUserFetcher{
		GetByIDFunc: func(_ context.Context, id string) (*models.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
	}
}

func testUser() *models.User {
	return &models.User{ID: "user-1", Email: "buyer@leafline.example", Role: models.RoleUser, TokenKey: "key-a"}
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	user := testUser()
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour, fetcherFor(user))

	pair, err := tm.IssuePair(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := tm.ValidateToken(context.Background(), pair.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.NotEmpty(t, claims.ID)

	refresh, err := tm.ValidateToken(context.Background(), pair.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, refresh.ID)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	user := testUser()
	tm := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor(user))
	pair, err := tm.IssuePair(user)
	require.NoError(t, err)

	_, err = tm.ValidateToken(context.Background(), pair.RefreshToken, models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	user := testUser()
	now := time.Date(2026, 4, 20, 16, 20, 0, 0, time.UTC)
	tm := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor(user)).
		WithClock(func() time.Time { return now })

	pair, err := tm.IssuePair(user)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tm.ValidateToken(context.Background(), pair.AccessToken, models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RotatedTokenKeyInvalidatesTokens(t *testing.T) {
	user := testUser()
	tm := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor(user))
	pair, err := tm.IssuePair(user)
	require.NoError(t, err)

	user.TokenKey = "key-b"
	_, err = tm.ValidateToken(context.Background(), pair.AccessToken, models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_UnknownUser(t *testing.T) {
	user := testUser()
	issuer := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor(user))
	pair, err := issuer.IssuePair(user)
	require.NoError(t, err)

	validator := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor())
	_, err = validator.ValidateToken(context.Background(), pair.AccessToken, models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Minute, time.Hour, fetcherFor())

	_, err := tm.ValidateToken(context.Background(), "not.a.jwt", models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
