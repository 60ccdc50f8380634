package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/models"
	"github.com/leafline/marketplace/internal/services"
	pkghttp "github.com/leafline/marketplace/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAuthService is a function-field mock for AuthServiceInterface
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	RegisterFunc     func(ctx context.Context, email, password, name, role string) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	MeFunc           func(ctx context.Context, userID string) (*services.UserResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name, role string) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, name, role)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims, refreshToken)
	}
	return nil
}

func (m *MockAuthService) Me(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

// MockAccountService is a function-field mock for AccountServiceInterface
type MockAccountService struct {
	GetLockoutStatusFunc  func(ctx context.Context, userID string) (*models.LockoutStatus, error)
	UnlockFunc            func(ctx context.Context, actorID, userID, ipAddress string) (*models.LockoutStatus, error)
	ListLoginAttemptsFunc func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

func (m *MockAccountService) GetLockoutStatus(ctx context.Context, userID string) (*models.LockoutStatus, error) {
	if m.GetLockoutStatusFunc != nil {
		return m.GetLockoutStatusFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountService) Unlock(ctx context.Context, actorID, userID, ipAddress string) (*models.LockoutStatus, error) {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, actorID, userID, ipAddress)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountService) ListLoginAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if m.ListLoginAttemptsFunc != nil {
		return m.ListLoginAttemptsFunc(ctx, userID, limit)
	}
	return nil, nil
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to the request context
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   models.TokenTypeAccess,
	}))
}

// AssertJSONResponse checks the status and decodes the JSON body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.NewDecoder(w.Body).Decode(target))
	}
}

// AssertErrorResponse checks status and machine-readable error code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	AssertJSONResponse(t, w, expectedStatus, &resp)
	assert.Equal(t, expectedCode, resp.Error)
	return resp
}
