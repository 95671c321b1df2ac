package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
	"github.com/collabset/backend/internal/repositories"
)

func newTestService(t *testing.T) (*Service, *repositories.TreeStore, *realtime.Tree) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	store := repositories.NewTreeStore(realtime.NewTree())

	users := []models.User{
		{ID: "admin", Email: "admin@example.com", Role: models.RoleAdmin, CreatedAt: now.Add(-72 * time.Hour)},
		{ID: "inf-1", Email: "a@example.com", Role: models.RoleInfluencer, PricePerPost: 100, CreatedAt: now.Add(-time.Hour)},
		{ID: "inf-2", Email: "b@example.com", Role: models.RoleInfluencer, IsBlocked: true, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "brand-1", Email: "c@example.com", Role: models.RoleBrand, CreatedAt: now.Add(-2 * time.Hour)},
	}
	for _, u := range users {
		if err := store.Create(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	requests := []models.CollabRequest{
		{ID: "r1", FromID: "brand-1", ToID: "inf-1", Status: models.RequestPending, Timestamp: now},
		{ID: "r2", FromID: "brand-1", ToID: "inf-2", Status: models.RequestPending, Timestamp: now},
	}
	for _, r := range requests {
		if err := store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("create request: %v", err)
		}
	}
	_, _, err := store.ResolveRequest(ctx, "r1", func(r models.CollabRequest) (models.CollabRequest, *models.Deal, error) {
		r.Status = models.RequestAccepted
		return r, &models.Deal{ID: "d1", RequestID: "r1", InfluencerID: "inf-1", BrandID: "brand-1", Amount: 100,
			ProjectStatus: models.ProjectCompleted, PaymentStatus: models.PaymentHeldInEscrow}, nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	mirror := realtime.NewTree()
	svc := NewService(store, store, mirror).WithNowFunc(func() time.Time { return now })
	return svc, store, mirror
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService(t)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalUsers != 4 || stats.Influencers != 2 || stats.Brands != 1 {
		t.Fatalf("unexpected user counts %+v", stats)
	}
	if stats.ActiveCollabs != 1 || stats.PendingRequests != 1 {
		t.Fatalf("unexpected request counts %+v", stats)
	}
	if stats.FlaggedUsers != 1 || stats.RecentSignups != 2 {
		t.Fatalf("unexpected moderation counts %+v", stats)
	}
	if stats.DealsByPaymentStatus[models.PaymentHeldInEscrow] != 1 || stats.DealsByPaymentStatus[models.PaymentReleased] != 0 {
		t.Fatalf("unexpected payment breakdown %+v", stats.DealsByPaymentStatus)
	}
	if stats.Totals.PendingPayments != 100 || stats.Totals.ActiveDealCount != 1 {
		t.Fatalf("unexpected totals %+v", stats.Totals)
	}
}

func TestSetVerifiedAndBlocked(t *testing.T) {
	ctx := context.Background()
	svc, store, mirror := newTestService(t)

	user, err := svc.SetVerified(ctx, "inf-1", true)
	if err != nil {
		t.Fatalf("SetVerified() error = %v", err)
	}
	if !user.IsVerified {
		t.Fatal("expected verified user")
	}

	if _, err := svc.SetBlocked(ctx, "inf-1", true); err != nil {
		t.Fatalf("SetBlocked() error = %v", err)
	}
	stored, err := store.FindByID(ctx, "inf-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if !stored.IsBlocked || !stored.IsVerified {
		t.Fatalf("unexpected stored user %+v", stored)
	}

	var mirrored models.User
	if err := mirror.Decode("users/inf-1", &mirrored); err != nil {
		t.Fatalf("decode mirrored user: %v", err)
	}
	if !mirrored.IsBlocked {
		t.Fatal("expected mirrored block")
	}

	unblocked, err := svc.SetBlocked(ctx, "inf-2", false)
	if err != nil || unblocked.IsBlocked {
		t.Fatalf("expected unblock, got %+v %v", unblocked, err)
	}
}

func TestSetBlockedErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if _, err := svc.SetBlocked(ctx, "admin", true); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected ErrForbidden blocking admin, got %v", err)
	}
	if _, err := svc.SetVerified(ctx, "missing", true); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentModerationKeepsBothFlags(t *testing.T) {
	ctx := context.Background()
	svc, store, mirror := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.SetVerified(ctx, "brand-1", true); err != nil {
				t.Errorf("SetVerified() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.SetBlocked(ctx, "brand-1", true); err != nil {
				t.Errorf("SetBlocked() error = %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := store.FindByID(ctx, "brand-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if !stored.IsVerified || !stored.IsBlocked {
		t.Fatalf("expected both moderation flags, got %+v", stored)
	}
	var mirrored models.User
	if err := mirror.Decode("users/brand-1", &mirrored); err != nil {
		t.Fatalf("decode mirrored user: %v", err)
	}
	if !mirrored.UpdatedAt.Equal(stored.UpdatedAt) || !mirrored.IsVerified || !mirrored.IsBlocked {
		t.Fatalf("mirror diverged from store: mirror=%+v store=%+v", mirrored, stored)
	}
}
