package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/repositories"
)

// Store is the persistence contract of the engine. ResolveRequest and UpdateDeal run the
// supplied function inside a single transaction against the freshly read record, so checks
// made by the function hold at the time of the write.
type Store interface {
	FindUser(ctx context.Context, id string) (models.User, error)
	CreateRequest(ctx context.Context, req models.CollabRequest) error
	FindRequest(ctx context.Context, id string) (models.CollabRequest, error)
	// ListRequestsForParty returns every request when partyID is empty.
	ListRequestsForParty(ctx context.Context, partyID string) ([]models.CollabRequest, error)
	// ResolveRequest persists the request returned by resolve and, when non-nil, inserts the deal.
	ResolveRequest(ctx context.Context, id string, resolve func(models.CollabRequest) (models.CollabRequest, *models.Deal, error)) (models.CollabRequest, *models.Deal, error)
	FindDeal(ctx context.Context, id string) (models.Deal, error)
	// ListDealsForParty returns every deal when partyID is empty.
	ListDealsForParty(ctx context.Context, partyID string) ([]models.Deal, error)
	UpdateDeal(ctx context.Context, id string, mutate func(models.Deal) (models.Deal, error)) (models.Deal, error)
}

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID   string
	Role models.Role
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// Service executes the collab request and deal lifecycle commands.
type Service struct {
	store  Store
	mirror Mirror
	now    func() time.Time
	newID  func() string
}

// NewService constructs a lifecycle service. mirror may be nil.
func NewService(store Store, mirror Mirror) *Service {
	if store == nil {
		panic("lifecycle: store is required")
	}
	return &Service{
		store:  store,
		mirror: mirror,
		now:    time.Now,
		newID:  newID,
	}
}

// WithNowFunc overrides the clock used for timestamps.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDFunc overrides the generator used for request and deal identifiers.
func (s *Service) WithIDFunc(fn func() string) *Service {
	if fn != nil {
		s.newID = fn
	}
	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SendCollabRequest creates a Pending request from actor to toID.
func (s *Service) SendCollabRequest(ctx context.Context, actor Actor, toID, message string) (models.CollabRequest, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.SendCollabRequest")
	defer span.End()

	toID = strings.TrimSpace(toID)
	if toID == "" {
		return models.CollabRequest{}, fmt.Errorf("recipient: %w", repositories.ErrNotFound)
	}
	if toID == actor.ID {
		return models.CollabRequest{}, ErrSelfRequest
	}

	if err := s.ensureNotBlocked(ctx, actor.ID); err != nil {
		return models.CollabRequest{}, err
	}
	if _, err := s.store.FindUser(ctx, toID); err != nil {
		return models.CollabRequest{}, fmt.Errorf("find recipient: %w", err)
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultInitialMessage
	}

	req := models.CollabRequest{
		ID:             s.newID(),
		FromID:         actor.ID,
		ToID:           toID,
		Status:         models.RequestPending,
		InitialMessage: message,
		Timestamp:      s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return models.CollabRequest{}, fmt.Errorf("create collab request: %w", err)
	}

	s.mirrorRequest(ctx, req)
	logging.FromContext(ctx).Info("collab request sent",
		slog.String("request_id", req.ID),
		slog.String("from_id", req.FromID),
		slog.String("to_id", req.ToID),
	)
	return req, nil
}

// OpenDirectCollab returns the request already linking actor and toID in either direction,
// or sends a new one when the pair has none. created reports which happened. Accepted
// requests win over Pending ones, which win over Rejected ones.
func (s *Service) OpenDirectCollab(ctx context.Context, actor Actor, toID, message string) (req models.CollabRequest, created bool, err error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.OpenDirectCollab")
	defer span.End()

	toID = strings.TrimSpace(toID)
	if toID == actor.ID {
		return models.CollabRequest{}, false, ErrSelfRequest
	}

	if existing, ok, err := s.pairRequest(ctx, actor.ID, toID); err != nil || ok {
		return existing, false, err
	}

	req, err = s.SendCollabRequest(ctx, actor, toID, message)
	if errors.Is(err, repositories.ErrConflict) {
		// Lost a race with the counterparty opening the same pair.
		if existing, ok, ferr := s.pairRequest(ctx, actor.ID, toID); ferr == nil && ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return models.CollabRequest{}, false, err
	}
	return req, true, nil
}

func (s *Service) pairRequest(ctx context.Context, partyID, otherID string) (models.CollabRequest, bool, error) {
	requests, err := s.store.ListRequestsForParty(ctx, partyID)
	if err != nil {
		return models.CollabRequest{}, false, fmt.Errorf("list collab requests: %w", err)
	}
	var (
		best  models.CollabRequest
		found bool
	)
	for _, req := range requests {
		if !req.Involves(otherID) {
			continue
		}
		if !found || requestRank(req.Status) > requestRank(best.Status) {
			best, found = req, true
		}
	}
	return best, found, nil
}

func requestRank(status models.RequestStatus) int {
	switch status {
	case models.RequestAccepted:
		return 2
	case models.RequestPending:
		return 1
	}
	return 0
}

// AcceptCollabRequest accepts a Pending request and creates its deal in the same transaction.
func (s *Service) AcceptCollabRequest(ctx context.Context, actor Actor, requestID string) (models.Deal, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.AcceptCollabRequest")
	defer span.End()

	req, err := s.authorizeResolution(ctx, actor, requestID)
	if err != nil {
		return models.Deal{}, err
	}

	from, err := s.lookupParty(ctx, req.FromID)
	if err != nil {
		return models.Deal{}, err
	}
	to, err := s.lookupParty(ctx, req.ToID)
	if err != nil {
		return models.Deal{}, err
	}

	dealID := s.newID()
	now := s.now()
	updated, deal, err := s.store.ResolveRequest(ctx, requestID, func(current models.CollabRequest) (models.CollabRequest, *models.Deal, error) {
		accepted, err := ApplyRequestStatus(current, models.RequestAccepted, now)
		if err != nil {
			return current, nil, err
		}
		d := NewDeal(dealID, accepted, from, to, now)
		return accepted, &d, nil
	})
	if err != nil {
		return models.Deal{}, fmt.Errorf("accept collab request: %w", err)
	}
	if deal == nil {
		return models.Deal{}, fmt.Errorf("accept collab request: store returned no deal")
	}

	s.mirrorRequest(ctx, updated)
	s.mirrorDeal(ctx, *deal)
	logging.FromContext(ctx).Info("collab request accepted",
		slog.String("request_id", updated.ID),
		slog.String("deal_id", deal.ID),
		slog.Int64("amount", deal.Amount),
	)
	return *deal, nil
}

// RejectCollabRequest rejects a Pending request. No deal is created.
func (s *Service) RejectCollabRequest(ctx context.Context, actor Actor, requestID string) (models.CollabRequest, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.RejectCollabRequest")
	defer span.End()

	if _, err := s.authorizeResolution(ctx, actor, requestID); err != nil {
		return models.CollabRequest{}, err
	}

	now := s.now()
	updated, _, err := s.store.ResolveRequest(ctx, requestID, func(current models.CollabRequest) (models.CollabRequest, *models.Deal, error) {
		rejected, err := ApplyRequestStatus(current, models.RequestRejected, now)
		return rejected, nil, err
	})
	if err != nil {
		return models.CollabRequest{}, fmt.Errorf("reject collab request: %w", err)
	}

	s.mirrorRequest(ctx, updated)
	logging.FromContext(ctx).Info("collab request rejected", slog.String("request_id", updated.ID))
	return updated, nil
}

// UpdateDealStatus advances the project track. Only the deal's influencer or an admin may do so.
func (s *Service) UpdateDealStatus(ctx context.Context, actor Actor, dealID string, status models.ProjectStatus, workLink string) (models.Deal, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.UpdateDealStatus")
	defer span.End()

	if !status.Valid() {
		return models.Deal{}, ErrUnknownStatus
	}

	updated, err := s.store.UpdateDeal(ctx, dealID, func(current models.Deal) (models.Deal, error) {
		if !actor.IsAdmin() && current.InfluencerID != actor.ID {
			return current, ErrForbidden
		}
		return ApplyProjectStatus(current, status, workLink, s.now())
	})
	if err != nil {
		return models.Deal{}, fmt.Errorf("update project status: %w", err)
	}

	s.mirrorDeal(ctx, updated)
	logging.FromContext(ctx).Info("deal project status updated",
		slog.String("deal_id", updated.ID),
		slog.String("project_status", string(updated.ProjectStatus)),
	)
	return updated, nil
}

// UpdatePaymentStatus advances the payment track. Only the deal's brand or an admin may do so.
func (s *Service) UpdatePaymentStatus(ctx context.Context, actor Actor, dealID string, status models.PaymentStatus) (models.Deal, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.UpdatePaymentStatus")
	defer span.End()

	if !status.Valid() {
		return models.Deal{}, ErrUnknownStatus
	}

	updated, err := s.store.UpdateDeal(ctx, dealID, func(current models.Deal) (models.Deal, error) {
		if !actor.IsAdmin() && current.BrandID != actor.ID {
			return current, ErrForbidden
		}
		return ApplyPaymentStatus(current, status, s.now())
	})
	if err != nil {
		return models.Deal{}, fmt.Errorf("update payment status: %w", err)
	}

	s.mirrorDeal(ctx, updated)
	logging.FromContext(ctx).Info("deal payment status updated",
		slog.String("deal_id", updated.ID),
		slog.String("payment_status", string(updated.PaymentStatus)),
	)
	return updated, nil
}

// ListRequests returns the requests involving the actor, or all requests for admins.
func (s *Service) ListRequests(ctx context.Context, actor Actor) ([]models.CollabRequest, error) {
	requests, err := s.store.ListRequestsForParty(ctx, s.scope(actor))
	if err != nil {
		return nil, fmt.Errorf("list collab requests: %w", err)
	}
	return requests, nil
}

// ListDeals returns the deals involving the actor, or all deals for admins.
func (s *Service) ListDeals(ctx context.Context, actor Actor) ([]models.Deal, error) {
	deals, err := s.store.ListDealsForParty(ctx, s.scope(actor))
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	return deals, nil
}

// Deal returns a single deal visible to the actor.
func (s *Service) Deal(ctx context.Context, actor Actor, dealID string) (models.Deal, error) {
	deal, err := s.store.FindDeal(ctx, dealID)
	if err != nil {
		return models.Deal{}, fmt.Errorf("find deal: %w", err)
	}
	if !actor.IsAdmin() && !deal.Involves(actor.ID) {
		return models.Deal{}, ErrForbidden
	}
	return deal, nil
}

// Request returns a single collab request visible to the actor.
func (s *Service) Request(ctx context.Context, actor Actor, requestID string) (models.CollabRequest, error) {
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return models.CollabRequest{}, fmt.Errorf("find collab request: %w", err)
	}
	if !actor.IsAdmin() && !req.Involves(actor.ID) {
		return models.CollabRequest{}, ErrForbidden
	}
	return req, nil
}

// Summary recomputes the financial aggregation for the actor from the current deals.
func (s *Service) Summary(ctx context.Context, actor Actor) (Summary, error) {
	scope := s.scope(actor)
	deals, err := s.store.ListDealsForParty(ctx, scope)
	if err != nil {
		return Summary{}, fmt.Errorf("list deals: %w", err)
	}
	return Summarize(deals, scope), nil
}

func (s *Service) scope(actor Actor) string {
	if actor.IsAdmin() {
		return ""
	}
	return actor.ID
}

func (s *Service) authorizeResolution(ctx context.Context, actor Actor, requestID string) (models.CollabRequest, error) {
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return models.CollabRequest{}, fmt.Errorf("find collab request: %w", err)
	}
	if !actor.IsAdmin() && req.ToID != actor.ID {
		return models.CollabRequest{}, ErrForbidden
	}
	if req.Status != models.RequestPending {
		return models.CollabRequest{}, ErrRequestResolved
	}
	if err := s.ensureNotBlocked(ctx, actor.ID); err != nil {
		return models.CollabRequest{}, err
	}
	return req, nil
}

func (s *Service) ensureNotBlocked(ctx context.Context, partyID string) error {
	party, err := s.lookupParty(ctx, partyID)
	if err != nil {
		return err
	}
	if party != nil && party.IsBlocked {
		return ErrBlocked
	}
	return nil
}

// lookupParty returns nil without error when the party record does not exist.
func (s *Service) lookupParty(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.FindUser(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find party %s: %w", id, err)
	}
	return &user, nil
}
