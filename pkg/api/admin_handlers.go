package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/joblog"
	"github.com/platinummonkey/docmeter/pkg/users"
)

const (
	// statusNone selects users without a subscription status
	statusNone = "none"

	maxLogLimit = 500
)

// AdminHandlers serves the admin dashboard. Routes are mounted behind
// RequireAdmin.
type AdminHandlers struct {
	stats StatsReader
	users UserAdmin
	logs  LogReader
}

// NewAdminHandlers creates a new AdminHandlers
func NewAdminHandlers(stats StatsReader, users UserAdmin, logs LogReader) *AdminHandlers {
	return &AdminHandlers{stats: stats, users: users, logs: logs}
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	if h.stats != nil {
		router.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	}
	if h.users != nil {
		router.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
		router.HandleFunc("/users/{id}/admin", h.SetAdmin).Methods(http.MethodPut)
	}
	if h.logs != nil {
		router.HandleFunc("/logs", h.ListLogs).Methods(http.MethodGet)
	}
}

// GetStats returns the latest daily stats and the last seven days
func (h *AdminHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	overview, err := h.stats.Overview(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}

// ListUsers returns one page of users matching the query filters
func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := httputil.ParseQueryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: invalid skip"))
		return
	}

	isAdmin, err := httputil.ParseQueryOptionalBool(r, "isAdmin")
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: %v", err))
		return
	}

	filter := users.ListFilter{
		EmailContains: r.URL.Query().Get("emailContains"),
		IsAdmin:       isAdmin,
	}
	for _, raw := range r.URL.Query()["subscriptionStatus"] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			switch {
			case v == "":
			case v == statusNone:
				filter.IncludeNoStatus = true
			case users.SubscriptionStatus(v).Valid():
				filter.Statuses = append(filter.Statuses, users.SubscriptionStatus(v))
			default:
				httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: unknown subscription status %q", v))
				return
			}
		}
	}

	page, err := h.users.List(r.Context(), skip, filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// SetAdmin sets or clears the admin flag of a user
func (h *AdminHandlers) SetAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: %v", err))
		return
	}

	var req SetAdminRequest
	if err := httputil.ParseJSON(r, &req); err != nil || req.IsAdmin == nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: isAdmin is required"))
		return
	}

	user, err := h.users.SetAdmin(r.Context(), id, *req.IsAdmin)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// ListLogs returns the newest logs rows, optionally of a single level
func (h *AdminHandlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil || limit <= 0 || limit > maxLogLimit {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: limit must be between 1 and %d", maxLogLimit))
		return
	}

	level := joblog.Level(r.URL.Query().Get("level"))
	switch level {
	case "", joblog.LevelJobError, joblog.LevelJobInfo:
	default:
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: unknown level %q", level))
		return
	}

	entries, err := h.logs.Recent(r.Context(), level, limit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}
