// Package lockout decides when repeated authentication failures lock an account.
//
// The Guard is pure: it reads a State, the result of the credential check and the
// current time, and returns the State to persist. Loading and saving State, and
// serializing concurrent attempts on one account, belong to the caller's store.
package lockout

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned at construction time for unusable lockout settings.
var ErrInvalidConfig = errors.New("invalid lockout configuration")

// Config holds the lockout policy.
type Config struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// Validate reports whether the policy can be enforced.
func (c Config) Validate() error {
	if c.MaxFailedAttempts <= 0 {
		return fmt.Errorf("%w: max failed attempts must be positive (got %d)", ErrInvalidConfig, c.MaxFailedAttempts)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive (got %s)", ErrInvalidConfig, c.Duration)
	}
	return nil
}

// State is the per-account login state persisted on the account record.
type State struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Outcome is the signal produced by one evaluation.
type Outcome int

const (
	OutcomeAuthenticated Outcome = iota
	OutcomeInvalidCredentials
	OutcomeAccountLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeAccountLocked:
		return "account_locked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the next state plus the outcome to report.
type Result struct {
	Next    State
	Outcome Outcome
	// NewlyLocked is set only on the attempt that crossed the threshold.
	NewlyLocked bool
	// RetryAfter is the remaining lock time when Outcome is OutcomeAccountLocked.
	RetryAfter time.Duration
}

// Guard applies the lockout policy.
type Guard struct {
	cfg Config
}

// NewGuard validates cfg and returns a Guard.
func NewGuard(cfg Config) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Guard{cfg: cfg}, nil
}

// Config returns the policy the guard enforces.
func (g *Guard) Config() Config {
	return g.cfg
}

// IsLocked reports whether state is locked at now. Callers must skip the
// credential check entirely while this is true.
func (g *Guard) IsLocked(state State, now time.Time) bool {
	return state.LockedUntil != nil && now.Before(*state.LockedUntil)
}

// Evaluate computes the transition for one authentication attempt.
func (g *Guard) Evaluate(state State, credentialsValid bool, now time.Time) Result {
	if g.IsLocked(state, now) {
		return Result{
			Next:       copyState(state),
			Outcome:    OutcomeAccountLocked,
			RetryAfter: state.LockedUntil.Sub(now),
		}
	}

	// An expired lock starts a fresh cycle.
	if state.LockedUntil != nil || state.FailedAttempts < 0 {
		state = State{}
	}

	if credentialsValid {
		return Result{Next: State{}, Outcome: OutcomeAuthenticated}
	}

	failed := state.FailedAttempts + 1
	if failed >= g.cfg.MaxFailedAttempts {
		until := now.Add(g.cfg.Duration)
		return Result{
			Next:        State{FailedAttempts: failed, LockedUntil: &until},
			Outcome:     OutcomeAccountLocked,
			NewlyLocked: true,
			RetryAfter:  g.cfg.Duration,
		}
	}

	return Result{
		Next:    State{FailedAttempts: failed},
		Outcome: OutcomeInvalidCredentials,
	}
}

func copyState(s State) State {
	out := State{FailedAttempts: s.FailedAttempts}
	if s.LockedUntil != nil {
		until := *s.LockedUntil
		out.LockedUntil = &until
	}
	return out
}
