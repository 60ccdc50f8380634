package repositories

import (
	"context"
	"fmt"

	"github.com/leafline/marketplace/internal/database"
	"github.com/leafline/marketplace/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt records a login attempt in the database
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (user_id, email, ip_address, user_agent, outcome, attempted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.UserID,
		normalizeEmail(attempt.Email),
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Outcome,
		attempt.AttemptedAt,
		attempt.ExpiresAt,
	)

	return database.MapPostgresError(err)
}

// ListRecentByUserID returns the newest attempts for an account, newest first
func (r *LoginAttemptRepository) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, user_id, email, ip_address, user_agent, outcome, attempted_at, expires_at
		FROM login_attempts
		WHERE user_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.Email, &a.IPAddress, &a.UserAgent, &a.Outcome, &a.AttemptedAt, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}

// DeleteExpiredAttempts removes login attempts past their retention
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
