package models

import (
	"time"

	"github.com/leafline/marketplace/internal/lockout"
)

const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"

	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDisabled  = "disabled"
)

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	TokenKey            string // Per-user secret for composite token signing
	Role                string // "user", "seller", "admin"
	Status              string // "active", "suspended", "disabled"
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LoginState returns the persisted lockout state of the account.
func (u *User) LoginState() lockout.State {
	s := lockout.State{FailedAttempts: u.FailedLoginAttempts}
	if u.LockedUntil != nil {
		until := *u.LockedUntil
		s.LockedUntil = &until
	}
	return s
}

// ApplyLoginState copies s onto the account record.
func (u *User) ApplyLoginState(s lockout.State) {
	u.FailedLoginAttempts = s.FailedAttempts
	u.LockedUntil = s.LockedUntil
}
