package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/leafline/marketplace/internal/models"
)

const tokenIssuer = "leafline-marketplace"

// UserTokenKeyFetcher loads the account whose TokenKey is mixed into the signing key
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenManager issues and validates HS256 tokens signed with global_secret + user.TokenKey
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	users              UserTokenKeyFetcher
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, users UserTokenKeyFetcher) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		users:              users,
		now:                time.Now,
	}
}

// WithClock replaces the time source used for issuing and validating
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		tm.now = now
	}
	return tm
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

func (tm *TokenManager) signingKey(tokenKey string) []byte {
	return []byte(tm.secret + tokenKey)
}

// IssuePair creates a fresh access/refresh token pair for user
func (tm *TokenManager) IssuePair(user *models.User) (*models.TokenPair, error) {
	access, err := tm.issue(user, models.TokenTypeAccess, tm.accessTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := tm.issue(user, models.TokenTypeRefresh, tm.refreshTokenExpiry)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(tm.accessTokenExpiry.Seconds()),
	}, nil
}

func (tm *TokenManager) issue(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.signingKey(user.TokenKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateToken verifies signature, expiry and type. Any failure is reported as
// models.ErrUnauthorized wrapping the cause.
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		c, ok := token.Claims.(*models.TokenClaims)
		if !ok || c.UserID == "" {
			return nil, errors.New("missing user id")
		}
		user, err := tm.users.GetByID(ctx, c.UserID)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		return tm.signingKey(user.TokenKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if claims.Type != expectedType {
		return nil, fmt.Errorf("%w: expected %s token, got %q", models.ErrUnauthorized, expectedType, claims.Type)
	}

	return claims, nil
}
