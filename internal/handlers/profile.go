package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
)

// ProfileHandler serves the caller's own party record and rate card.
type ProfileHandler struct {
	Users    UserStore
	Sessions SessionManager
	Mirror   lifecycle.Mirror
	NowFunc  func() time.Time
}

// profileError is a rejected profile change. Its text is returned to the caller.
type profileError string

func (e profileError) Error() string { return string(e) }

// Me handles GET /api/v1/me.
func (h ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	user, err := h.Users.FindByID(r.Context(), actor.ID)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, user)
}

type profileUpdate struct {
	Name              *string `json:"name"`
	BrandName         *string `json:"brandName"`
	Category          *string `json:"category"`
	City              *string `json:"city"`
	Bio               *string `json:"bio"`
	PricePerPost      *int64  `json:"pricePerPost"`
	AvgCampaignBudget *int64  `json:"avgCampaignBudget"`
	IsBarterEnabled   *bool   `json:"isBarterEnabled"`
}

// Update handles PATCH /api/v1/me. Only fields present in the body change, and the change is
// applied to the freshly read record so concurrent moderation is kept.
func (h ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req profileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid profile payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.Users.UpdateUser(ctx, actor.ID, func(current models.User) (models.User, error) {
		if err := applyProfileUpdate(&current, req); err != nil {
			return current, err
		}
		if profileComplete(current) {
			current.OnboardingStatus = models.OnboardingCompleted
		}
		return lifecycle.Touch(current, h.now()), nil
	})
	if err != nil {
		h.respondUpdateError(w, r, err)
		return
	}
	lifecycle.MirrorUser(ctx, h.Mirror, user)

	respondJSON(ctx, w, http.StatusOK, user)
}

type switchRoleRequest struct {
	Role models.Role `json:"role"`
}

// SwitchRole handles POST /api/v1/me/role. Moving between Influencer and Brand restarts
// onboarding, and fresh tokens carrying the new role are returned. Deals already signed keep
// the sides they were created with.
func (h ProfileHandler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req switchRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid role switch payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != models.RoleInfluencer && req.Role != models.RoleBrand {
		respondMessage(ctx, w, http.StatusBadRequest, "role must be Influencer or Brand")
		return
	}

	user, err := h.Users.UpdateUser(ctx, actor.ID, func(current models.User) (models.User, error) {
		if current.Role == models.RoleAdmin {
			return current, lifecycle.ErrForbidden
		}
		current.Role = req.Role
		current.OnboardingStatus = models.OnboardingProfilePending
		return lifecycle.Touch(current, h.now()), nil
	})
	if err != nil {
		h.respondUpdateError(w, r, err)
		return
	}
	lifecycle.MirrorUser(ctx, h.Mirror, user)
	logging.FromContext(ctx).Info("party switched role", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))

	if h.Sessions == nil {
		respondJSON(ctx, w, http.StatusOK, authResponse{User: user})
		return
	}
	tokens, err := h.Sessions.Issue(ctx, auth.Identity{UserID: user.ID, Role: user.Role})
	if err != nil {
		logging.FromContext(ctx).Error("failed to issue session after role switch", "error", err, "userId", user.ID)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens, User: user})
}

func (h ProfileHandler) respondUpdateError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid profileError
	if errors.As(err, &invalid) {
		respondMessage(r.Context(), w, http.StatusBadRequest, invalid.Error())
		return
	}
	respondError(r.Context(), w, err)
}

func applyProfileUpdate(user *models.User, req profileUpdate) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return profileError("name cannot be empty")
		}
		user.Name = name
	}
	if req.BrandName != nil {
		if user.Role != models.RoleBrand {
			return profileError("only brands have a brand name")
		}
		user.BrandName = strings.TrimSpace(*req.BrandName)
	}
	if req.Category != nil {
		user.Category = strings.TrimSpace(*req.Category)
	}
	if req.City != nil {
		user.City = strings.TrimSpace(*req.City)
	}
	if req.Bio != nil {
		user.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.PricePerPost != nil {
		if user.Role != models.RoleInfluencer {
			return profileError("only influencers have a price per post")
		}
		if *req.PricePerPost < 0 {
			return profileError("pricePerPost must not be negative")
		}
		user.PricePerPost = *req.PricePerPost
	}
	if req.AvgCampaignBudget != nil {
		if user.Role != models.RoleBrand {
			return profileError("only brands have a campaign budget")
		}
		if *req.AvgCampaignBudget < 0 {
			return profileError("avgCampaignBudget must not be negative")
		}
		user.AvgCampaignBudget = *req.AvgCampaignBudget
	}
	if req.IsBarterEnabled != nil {
		if user.Role == models.RoleAdmin {
			return profileError("only marketplace parties can offer barter")
		}
		user.IsBarterEnabled = *req.IsBarterEnabled
	}
	return nil
}

// profileComplete mirrors the onboarding checklist: influencers need a category and a rate,
// brands need a brand name.
func profileComplete(u models.User) bool {
	switch u.Role {
	case models.RoleInfluencer:
		return u.Category != "" && u.PricePerPost > 0
	case models.RoleBrand:
		return u.BrandName != ""
	case models.RoleAdmin:
		return true
	}
	return false
}

func (h ProfileHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
