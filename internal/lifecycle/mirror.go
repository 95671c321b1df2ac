package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
)

// Mirror receives committed records so realtime subscribers observe them. Records are
// written conditionally inside Atomic, so a mirrored record never moves to an earlier state
// when two commits race to publish.
type Mirror interface {
	Write(path string, value any) error
	Atomic(fn func(*realtime.Txn) error) error
}

// DealSuperseded reports whether stored is at least as far along as incoming on both
// tracks. Each committed deal change advances exactly one track, so a record that is not
// ahead on either track is an older or identical commit.
func DealSuperseded(stored, incoming models.Deal) bool {
	return incoming.ProjectStatus.Index() <= stored.ProjectStatus.Index() &&
		incoming.PaymentStatus.Index() <= stored.PaymentStatus.Index()
}

// RequestSuperseded reports whether stored is resolved while incoming is still Pending.
func RequestSuperseded(stored, incoming models.CollabRequest) bool {
	return stored.Status != models.RequestPending && incoming.Status == models.RequestPending
}

// UserSuperseded reports whether stored carries a later modification time than incoming.
func UserSuperseded(stored, incoming models.User) bool {
	return stored.UpdatedAt.After(incoming.UpdatedAt)
}

// Touch stamps u as modified at now. The stamp never moves backward, so UserSuperseded
// orders commits even when the clock steps back.
func Touch(u models.User, now time.Time) models.User {
	now = now.UTC()
	if !now.After(u.UpdatedAt) {
		now = u.UpdatedAt.Add(time.Microsecond)
	}
	u.UpdatedAt = now
	return u
}

// MirrorUser publishes a committed user record. m may be nil.
func MirrorUser(ctx context.Context, m Mirror, user models.User) {
	mirrorTo(ctx, m, "users/"+user.ID, user, UserSuperseded)
}

func (s *Service) mirrorRequest(ctx context.Context, req models.CollabRequest) {
	mirrorTo(ctx, s.mirror, "requests/"+req.ID, req, RequestSuperseded)
}

func (s *Service) mirrorDeal(ctx context.Context, deal models.Deal) {
	mirrorTo(ctx, s.mirror, "deals/"+deal.ID, deal, DealSuperseded)
}

func mirrorTo[T any](ctx context.Context, m Mirror, path string, value T, supersedes func(stored, incoming T) bool) {
	if m == nil {
		return
	}
	written, err := realtime.WriteUnlessSuperseded(m, path, value, supersedes)
	if err != nil {
		logging.FromContext(ctx).Warn("mirror write failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	if !written {
		logging.FromContext(ctx).Debug("mirror already holds a newer record", slog.String("path", path))
	}
}
