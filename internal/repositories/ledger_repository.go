package repositories

import (
	"context"

	"github.com/collabset/backend/internal/models"
)

// LedgerRepository persists collab requests and the deals created from them. ResolveRequest
// and UpdateDeal read the current record, apply the callback and write the result in one
// transaction. An empty partyID on the list methods selects every record.
type LedgerRepository interface {
	FindUser(ctx context.Context, id string) (models.User, error)
	CreateRequest(ctx context.Context, req models.CollabRequest) error
	FindRequest(ctx context.Context, id string) (models.CollabRequest, error)
	ListRequestsForParty(ctx context.Context, partyID string) ([]models.CollabRequest, error)
	ResolveRequest(ctx context.Context, id string, resolve func(models.CollabRequest) (models.CollabRequest, *models.Deal, error)) (models.CollabRequest, *models.Deal, error)
	FindDeal(ctx context.Context, id string) (models.Deal, error)
	ListDealsForParty(ctx context.Context, partyID string) ([]models.Deal, error)
	UpdateDeal(ctx context.Context, id string, mutate func(models.Deal) (models.Deal, error)) (models.Deal, error)
}

// PairKey identifies the unordered pair of parties on a request.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
