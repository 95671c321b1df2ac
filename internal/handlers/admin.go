package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/snapshot"
)

// AdminHandler serves the admin console. Routes are mounted behind RequireRole(Admin).
type AdminHandler struct {
	Admin     AdminService
	Users     UserLister
	Snapshots Snapshotter
}

type flagBody struct {
	Verified *bool `json:"verified"`
	Blocked  *bool `json:"blocked"`
}

// Stats handles GET /api/v1/admin/stats.
func (h AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Admin.Stats(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, stats)
}

// ListUsers handles GET /api/v1/admin/users.
func (h AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"users": users})
}

// Verify handles POST /api/v1/admin/users/{userID}/verify. An empty body verifies the user.
func (h AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verified := true
	if r.ContentLength > 0 {
		var body flagBody
		if err := decodeJSON(w, r, &body); err != nil {
			logging.FromContext(ctx).Warn("invalid verify payload", "error", err)
			respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Verified != nil {
			verified = *body.Verified
		}
	}

	user, err := h.Admin.SetVerified(ctx, chi.URLParam(r, "userID"), verified)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, user)
}

// Block handles POST /api/v1/admin/users/{userID}/block with body {"blocked": bool}.
func (h AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body flagBody
	if err := decodeJSON(w, r, &body); err != nil || body.Blocked == nil {
		respondMessage(ctx, w, http.StatusBadRequest, "blocked is required")
		return
	}

	user, err := h.Admin.SetBlocked(ctx, chi.URLParam(r, "userID"), *body.Blocked)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, user)
}

// Snapshot handles POST /api/v1/admin/snapshots.
func (h AdminHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		respondError(r.Context(), w, snapshot.ErrStorageUnavailable)
		return
	}
	result, err := h.Snapshots.Export(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusCreated, result)
}
