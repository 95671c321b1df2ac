package lifecycle

import "github.com/collabset/backend/internal/models"

// Summary aggregates the money and activity of a party's deals.
type Summary struct {
	TotalEarned     int64 `json:"totalEarned"`
	PendingPayments int64 `json:"pendingPayments"`
	ActiveDealCount int   `json:"activeDealCount"`
}

// Summarize folds the deals involving partyID. An empty partyID aggregates every deal.
func Summarize(deals []models.Deal, partyID string) Summary {
	var s Summary
	for _, d := range deals {
		if partyID != "" && !d.Involves(partyID) {
			continue
		}
		s.ActiveDealCount++
		switch d.PaymentStatus {
		case models.PaymentReleased:
			s.TotalEarned += d.Amount
		case models.PaymentHeldInEscrow:
			s.PendingPayments += d.Amount
		}
	}
	return s
}
