package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/leafline/marketplace/internal/database"
	"github.com/leafline/marketplace/internal/lockout"
	"github.com/leafline/marketplace/internal/models"
	"github.com/leafline/marketplace/pkg/auth"
)

const userColumns = `id, email, password_hash, name, token_key, role, status, failed_login_attempts, locked_until, created_at, updated_at`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.TokenKey, &user.Role, &user.Status,
		&user.FailedLoginAttempts, &lockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.LockedUntil = lockedUntil
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, normalizeEmail(email)))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	user.Email = normalizeEmail(user.Email)

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, token_key, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name,
		user.TokenKey, user.Role, user.Status,
		user.CreatedAt, user.UpdatedAt,
	))
}

// WithLoginLock loads the account by email under a row lock, passes it to fn and
// persists the login state fn returns, all in one transaction. Concurrent calls
// for the same account run one after another.
//
// An unknown email returns models.ErrNotFound without calling fn. If fn returns an
// error the transaction rolls back and the error is returned unchanged.
func (r *UserRepository) WithLoginLock(ctx context.Context, email string, fn func(*models.User) (lockout.State, error)) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 FOR UPDATE`

		user, err := scanUserRow(tx.QueryRow(ctx, query, normalizeEmail(email)))
		if err != nil {
			return err
		}

		next, err := fn(user)
		if err != nil {
			return err
		}

		return saveLoginState(ctx, tx, user.ID, next)
	})
}

// ResetLoginState clears the failure counter and any lock on the account.
func (r *UserRepository) ResetLoginState(ctx context.Context, id string) (*models.User, error) {
	query := `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

func saveLoginState(ctx context.Context, tx pgx.Tx, id string, s lockout.State) error {
	query := `
		UPDATE users SET failed_login_attempts = $1, locked_until = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := tx.Exec(ctx, query, s.FailedAttempts, s.LockedUntil, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
