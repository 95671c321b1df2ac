package lifecycle

import (
	"strings"
	"time"

	"github.com/collabset/backend/internal/models"
)

const (
	// DefaultInitialMessage is used when a collab request is sent without a message.
	DefaultInitialMessage = "Interested in collaborating!"

	fallbackBrandName      = "Brand"
	fallbackInfluencerName = "Influencer"
)

// NewDeal builds the deal created when req is accepted. Influencer and brand are derived
// from the parties' roles; either party may be nil when its record is missing, in which
// case placeholder names are used and the amount degrades to zero.
func NewDeal(id string, req models.CollabRequest, from, to *models.User, now time.Time) models.Deal {
	influencerID, brandID := req.FromID, req.ToID
	influencer, brand := from, to
	if (from != nil && from.Role == models.RoleBrand) || (to != nil && to.Role == models.RoleInfluencer) {
		influencerID, brandID = req.ToID, req.FromID
		influencer, brand = to, from
	}

	brandName := fallbackBrandName
	if brand != nil {
		brandName = firstNonEmpty(brand.BrandName, brand.Name, fallbackBrandName)
	}

	influencerName := fallbackInfluencerName
	var amount int64
	if influencer != nil {
		influencerName = firstNonEmpty(influencer.Name, fallbackInfluencerName)
		amount = influencer.PricePerPost
	}
	if from == nil || to == nil || amount < 0 {
		amount = 0
	}

	now = now.UTC()
	return models.Deal{
		ID:             id,
		RequestID:      req.ID,
		InfluencerID:   influencerID,
		BrandID:        brandID,
		BrandName:      brandName,
		InfluencerName: influencerName,
		Amount:         amount,
		ProjectStatus:  models.ProjectDealSigned,
		PaymentStatus:  models.PaymentAwaitingBrand,
		Timestamp:      now,
		LastUpdated:    now,
	}
}

// ApplyRequestStatus resolves a Pending request.
func ApplyRequestStatus(req models.CollabRequest, status models.RequestStatus, now time.Time) (models.CollabRequest, error) {
	if err := RequestTransitionAllowed(req.Status, status); err != nil {
		return req, err
	}
	responded := now.UTC()
	req.Status = status
	req.RespondedAt = &responded
	return req, nil
}

// ApplyProjectStatus advances the project track by one step. A non-empty workLink
// replaces the stored deliverable link.
func ApplyProjectStatus(deal models.Deal, status models.ProjectStatus, workLink string, now time.Time) (models.Deal, error) {
	if !NextStateAllowed(deal, Command{Project: status}) {
		return deal, ProjectTransitionAllowed(deal.ProjectStatus, status)
	}
	deal.ProjectStatus = status
	if link := strings.TrimSpace(workLink); link != "" {
		deal.WorkLink = link
	}
	deal.LastUpdated = now.UTC()
	return deal, nil
}

// ApplyPaymentStatus advances the payment track, enforcing release gating.
func ApplyPaymentStatus(deal models.Deal, status models.PaymentStatus, now time.Time) (models.Deal, error) {
	if !NextStateAllowed(deal, Command{Payment: status}) {
		return deal, PaymentTransitionAllowed(deal, status)
	}
	deal.PaymentStatus = status
	deal.LastUpdated = now.UTC()
	return deal, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
