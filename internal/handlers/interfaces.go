package handlers

import (
	"context"
	"net/http"

	"github.com/collabset/backend/internal/admin"
	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/deliverables"
	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/snapshot"
)

// UserStore captures the persistence operations required by the auth and profile handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUser(ctx context.Context, id string, mutate func(models.User) (models.User, error)) (models.User, error)
}

// SessionManager issues, refreshes and validates authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, id auth.Identity) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string)
	ParseAccessToken(token string) (auth.Identity, error)
}

// LifecycleService runs the collab request and deal commands.
type LifecycleService interface {
	SendCollabRequest(ctx context.Context, actor lifecycle.Actor, toID, message string) (models.CollabRequest, error)
	OpenDirectCollab(ctx context.Context, actor lifecycle.Actor, toID, message string) (models.CollabRequest, bool, error)
	AcceptCollabRequest(ctx context.Context, actor lifecycle.Actor, requestID string) (models.Deal, error)
	RejectCollabRequest(ctx context.Context, actor lifecycle.Actor, requestID string) (models.CollabRequest, error)
	UpdateDealStatus(ctx context.Context, actor lifecycle.Actor, dealID string, status models.ProjectStatus, workLink string) (models.Deal, error)
	UpdatePaymentStatus(ctx context.Context, actor lifecycle.Actor, dealID string, status models.PaymentStatus) (models.Deal, error)
	ListRequests(ctx context.Context, actor lifecycle.Actor) ([]models.CollabRequest, error)
	ListDeals(ctx context.Context, actor lifecycle.Actor) ([]models.Deal, error)
	Deal(ctx context.Context, actor lifecycle.Actor, dealID string) (models.Deal, error)
	Summary(ctx context.Context, actor lifecycle.Actor) (lifecycle.Summary, error)
}

// ChatService exchanges messages on accepted collaborations.
type ChatService interface {
	List(ctx context.Context, actor lifecycle.Actor, collabID string) ([]models.ChatMessage, error)
	Send(ctx context.Context, actor lifecycle.Actor, collabID, text string) (models.ChatMessage, error)
	MarkSeen(ctx context.Context, actor lifecycle.Actor, collabID string) (int, error)
}

// AdminService implements the admin console.
type AdminService interface {
	Stats(ctx context.Context) (admin.Stats, error)
	SetVerified(ctx context.Context, userID string, verified bool) (models.User, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) (models.User, error)
}

// UserLister lists every party for the admin console and the party directory.
type UserLister interface {
	List(ctx context.Context) ([]models.User, error)
}

// Snapshotter exports the ledger to object storage.
type Snapshotter interface {
	Export(ctx context.Context) (snapshot.Result, error)
}

// DeliverableProvider resolves previews for deal work links.
type DeliverableProvider interface {
	Lookup(ctx context.Context, url string) (deliverables.Metadata, error)
}

// StreamServer upgrades a request into a change stream for the actor.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor)
}
