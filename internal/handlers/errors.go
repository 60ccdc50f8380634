package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/leafline/marketplace/internal/models"
	pkgauth "github.com/leafline/marketplace/pkg/auth"
	pkghttp "github.com/leafline/marketplace/pkg/http"
)

// writeServiceError maps service errors onto the HTTP error envelope.
// Order matters: a locked account is reported before anything else.
func writeServiceError(w http.ResponseWriter, err error, now time.Time) {
	var locked *models.AccountLockedError
	var weak *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, pkghttp.RetryAfterSeconds(locked.RetryAfter(now)))
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteInvalidCredentials(w)
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
	case errors.As(err, &weak):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password",
			"Password does not meet requirements", strings.Join(weak.Problems, "; "))
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid or expired token")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Email already registered")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
