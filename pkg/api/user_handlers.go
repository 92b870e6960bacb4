package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/middleware"
)

// UserHandlers serves the current user
type UserHandlers struct {
	users UserAdmin
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(users UserAdmin) *UserHandlers {
	return &UserHandlers{users: users}
}

// RegisterRoutes registers user routes on the authenticated /api router
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods(http.MethodGet)
}

// Me returns the authenticated user as currently stored. The session cache
// may hold a stale copy, so credits and subscription fields are re-read.
func (h *UserHandlers) Me(w http.ResponseWriter, r *http.Request) {
	current := middleware.CurrentUser(r)
	if current == nil {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	user, err := h.users.GetByID(r.Context(), current.ID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if user == nil {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}
	httputil.WriteSuccess(w, user)
}

// CreditsHandlers meters credit spends
type CreditsHandlers struct {
	ledger CreditSpender
}

// NewCreditsHandlers creates a new CreditsHandlers
func NewCreditsHandlers(ledger CreditSpender) *CreditsHandlers {
	return &CreditsHandlers{ledger: ledger}
}

// RegisterRoutes registers credit routes on the authenticated /api router
func (h *CreditsHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/credits/spend", h.Spend).Methods(http.MethodPost)
}

// Spend consumes one credit; 402 when the balance is zero
func (h *CreditsHandlers) Spend(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	if err := h.ledger.Spend(r.Context(), user.ID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SessionHandlers ends the caller's session
type SessionHandlers struct {
	sessions SessionEnder
}

// NewSessionHandlers creates a new SessionHandlers
func NewSessionHandlers(sessions SessionEnder) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

// RegisterRoutes registers session routes on the authenticated /api router
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
}

// Logout deletes the session named by the bearer token
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.CurrentSession(r)
	if session == nil {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	if err := h.sessions.Logout(r.Context(), session.ID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
