package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/collabset/backend/internal/models"
)

// allCategories is the category filter value that matches every party.
const allCategories = "All"

// DirectoryHandler lets parties browse the other side of the marketplace.
type DirectoryHandler struct {
	Users UserLister
}

// directoryFilter selects parties for the directory listing.
type directoryFilter struct {
	Role       models.Role
	Category   string
	Query      string
	BarterOnly bool
}

// matches reports whether u is listed. Blocked parties, admins and the viewer are never listed.
func (f directoryFilter) matches(u models.User, viewerID string) bool {
	if u.ID == viewerID || u.IsBlocked || u.Role == models.RoleAdmin {
		return false
	}
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Category != "" && !strings.EqualFold(u.Category, f.Category) {
		return false
	}
	if f.BarterOnly && !u.IsBarterEnabled {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.BrandName), q)
}

// counterpartRole is the side of the marketplace a party browses by default.
func counterpartRole(role models.Role) models.Role {
	switch role {
	case models.RoleBrand:
		return models.RoleInfluencer
	case models.RoleInfluencer:
		return models.RoleBrand
	}
	return ""
}

// List handles GET /api/v1/parties?role=&category=&q=&barter=.
func (h DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := directoryFilter{
		Role:     counterpartRole(actor.Role),
		Category: strings.TrimSpace(query.Get("category")),
		Query:    strings.TrimSpace(query.Get("q")),
	}
	if filter.Category == allCategories {
		filter.Category = ""
	}
	if role := query.Get("role"); role != "" {
		filter.Role = models.Role(role)
		if filter.Role != models.RoleInfluencer && filter.Role != models.RoleBrand {
			respondMessage(ctx, w, http.StatusBadRequest, "role must be Influencer or Brand")
			return
		}
	}
	if barter := query.Get("barter"); barter != "" {
		only, err := strconv.ParseBool(barter)
		if err != nil {
			respondMessage(ctx, w, http.StatusBadRequest, "barter must be true or false")
			return
		}
		filter.BarterOnly = only
	}

	users, err := h.Users.List(ctx)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	parties := make([]models.User, 0, len(users))
	for _, u := range users {
		if !filter.matches(u, actor.ID) {
			continue
		}
		u.Email = ""
		u.Password = ""
		parties = append(parties, u)
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"parties": parties})
}
