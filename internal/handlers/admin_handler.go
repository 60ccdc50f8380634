package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leafline/marketplace/internal/auth"
	"github.com/leafline/marketplace/internal/models"
	pkghttp "github.com/leafline/marketplace/pkg/http"
)

// AccountServiceInterface is the admin view of account lockout state.
type AccountServiceInterface interface {
	GetLockoutStatus(ctx context.Context, userID string) (*models.LockoutStatus, error)
	Unlock(ctx context.Context, actorID, userID, ipAddress string) (*models.LockoutStatus, error)
	ListLoginAttempts(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// AdminHandler serves the lockout administration endpoints.
type AdminHandler struct {
	service  AccountServiceInterface
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AccountServiceInterface, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{service: service, ipConfig: ipConfig, now: time.Now}
}

// LockoutStatusResponse is the JSON form of models.LockoutStatus
type LockoutStatusResponse struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	FailedAttempts int        `json:"failed_attempts"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// LoginAttemptResponse is one entry of the login history
type LoginAttemptResponse struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Outcome     string    `json:"outcome"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// LoginAttemptsResponse wraps the history list
type LoginAttemptsResponse struct {
	Attempts []LoginAttemptResponse `json:"attempts"`
	Count    int                    `json:"count"`
}

// GetLockoutStatus handles GET /admin/users/{id}/lockout
func (h *AdminHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetLockoutStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toLockoutStatusResponse(st))
}

// Unlock handles POST /admin/users/{id}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	st, err := h.service.Unlock(r.Context(), claims.UserID, chi.URLParam(r, "id"), pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toLockoutStatusResponse(st))
}

// ListLoginAttempts handles GET /admin/users/{id}/login-attempts?limit=N
func (h *AdminHandler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := h.service.ListLoginAttempts(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	resp := LoginAttemptsResponse{Attempts: make([]LoginAttemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, LoginAttemptResponse{
			ID:          a.ID,
			IPAddress:   a.IPAddress,
			UserAgent:   a.UserAgent,
			Outcome:     a.Outcome,
			AttemptedAt: a.AttemptedAt,
		})
	}
	resp.Count = len(resp.Attempts)

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func toLockoutStatusResponse(st *models.LockoutStatus) LockoutStatusResponse {
	return LockoutStatusResponse{
		UserID:         st.UserID,
		Email:          st.Email,
		FailedAttempts: st.FailedAttempts,
		Locked:         st.Locked,
		LockedUntil:    st.LockedUntil,
	}
}
