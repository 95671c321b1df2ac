package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/repositories"
)

// RecentSignupWindow is how far back a signup counts as recent.
const RecentSignupWindow = 24 * time.Hour

// Ledger lists every request and deal when partyID is empty.
type Ledger interface {
	ListRequestsForParty(ctx context.Context, partyID string) ([]models.CollabRequest, error)
	ListDealsForParty(ctx context.Context, partyID string) ([]models.Deal, error)
}

// Stats is the admin console overview.
type Stats struct {
	TotalUsers           int                          `json:"totalUsers"`
	Influencers          int                          `json:"influencers"`
	Brands               int                          `json:"brands"`
	ActiveCollabs        int                          `json:"activeCollabs"`
	PendingRequests      int                          `json:"pendingRequests"`
	FlaggedUsers         int                          `json:"flaggedUsers"`
	RecentSignups        int                          `json:"recentSignups"`
	DealsByPaymentStatus map[models.PaymentStatus]int `json:"dealsByPaymentStatus"`
	Totals               lifecycle.Summary            `json:"totals"`
}

// Service implements the admin console operations.
type Service struct {
	users  repositories.UserRepository
	ledger Ledger
	mirror lifecycle.Mirror
	now    func() time.Time
}

// NewService constructs an admin service. mirror may be nil.
func NewService(users repositories.UserRepository, ledger Ledger, mirror lifecycle.Mirror) *Service {
	return &Service{users: users, ledger: ledger, mirror: mirror, now: time.Now}
}

// WithNowFunc overrides the clock.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Stats computes the overview from the current store contents.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list users: %w", err)
	}
	requests, err := s.ledger.ListRequestsForParty(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("list requests: %w", err)
	}
	deals, err := s.ledger.ListDealsForParty(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("list deals: %w", err)
	}

	cutoff := s.now().Add(-RecentSignupWindow)
	stats := Stats{
		TotalUsers: len(users),
		DealsByPaymentStatus: map[models.PaymentStatus]int{
			models.PaymentAwaitingBrand: 0,
			models.PaymentHeldInEscrow:  0,
			models.PaymentReleased:      0,
		},
		Totals: lifecycle.Summarize(deals, ""),
	}
	for _, u := range users {
		switch u.Role {
		case models.RoleInfluencer:
			stats.Influencers++
		case models.RoleBrand:
			stats.Brands++
		}
		if u.IsBlocked {
			stats.FlaggedUsers++
		}
		if u.CreatedAt.After(cutoff) {
			stats.RecentSignups++
		}
	}
	for _, r := range requests {
		switch r.Status {
		case models.RequestAccepted:
			stats.ActiveCollabs++
		case models.RequestPending:
			stats.PendingRequests++
		}
	}
	for _, d := range deals {
		stats.DealsByPaymentStatus[d.PaymentStatus]++
	}
	return stats, nil
}

// SetVerified sets the verification badge of a user.
func (s *Service) SetVerified(ctx context.Context, userID string, verified bool) (models.User, error) {
	return s.modify(ctx, userID, func(u *models.User) error {
		u.IsVerified = verified
		return nil
	})
}

// SetBlocked blocks or unblocks a user. Admin accounts cannot be blocked.
func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) (models.User, error) {
	return s.modify(ctx, userID, func(u *models.User) error {
		if blocked && u.Role == models.RoleAdmin {
			return lifecycle.ErrForbidden
		}
		u.IsBlocked = blocked
		return nil
	})
}

func (s *Service) modify(ctx context.Context, userID string, change func(*models.User) error) (models.User, error) {
	user, err := s.users.UpdateUser(ctx, userID, func(current models.User) (models.User, error) {
		if err := change(&current); err != nil {
			return current, err
		}
		return lifecycle.Touch(current, s.now()), nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("moderate user: %w", err)
	}

	lifecycle.MirrorUser(ctx, s.mirror, user)
	logging.FromContext(ctx).Info("user moderated",
		slog.String("user_id", user.ID),
		slog.Bool("verified", user.IsVerified),
		slog.Bool("blocked", user.IsBlocked),
	)
	return user, nil
}
