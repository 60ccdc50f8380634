package models

import "time"

// Login attempt outcomes as stored in login_attempts.outcome
const (
	AttemptSucceeded          = "success"
	AttemptInvalidCredentials = "invalid_credentials"
	AttemptAccountLocked      = "account_locked"
	AttemptUnknownAccount     = "unknown_account"
	AttemptAccountInactive    = "account_inactive"
)

// LoginAttempt represents a single login attempt in the system
type LoginAttempt struct {
	ID          string    `db:"id" json:"id"`
	UserID      *string   `db:"user_id" json:"user_id,omitempty"`
	Email       string    `db:"email" json:"email"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	UserAgent   string    `db:"user_agent" json:"user_agent"`
	Outcome     string    `db:"outcome" json:"outcome"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
	ExpiresAt   time.Time `db:"expires_at" json:"-"`
}

// Succeeded reports whether the attempt authenticated.
func (a *LoginAttempt) Succeeded() bool {
	return a.Outcome == AttemptSucceeded
}

// LockoutStatus is the admin view of an account's lockout state.
type LockoutStatus struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	FailedAttempts int        `json:"failed_attempts"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}
