package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
	"github.com/collabset/backend/internal/repositories"
)

type fixture struct {
	store   *repositories.TreeStore
	mirror  *realtime.Tree
	service *Service
	now     time.Time

	influencer models.User
	brand      models.User
	admin      models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  repositories.NewTreeStore(realtime.NewTree()),
		mirror: realtime.NewTree(),
		now:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}

	var seq atomic.Int64
	f.service = NewService(f.store, f.mirror).
		WithNowFunc(func() time.Time { return f.now }).
		WithIDFunc(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) })

	f.influencer = models.User{ID: "inf", Email: "inf@example.com", Name: "Riya", Role: models.RoleInfluencer, PricePerPost: 15000}
	f.brand = models.User{ID: "brand", Email: "brand@example.com", Name: "Arjun", BrandName: "TrailMix", Role: models.RoleBrand}
	f.admin = models.User{ID: "admin", Email: "admin@example.com", Name: "Admin", Role: models.RoleAdmin}
	for _, u := range []models.User{f.influencer, f.brand, f.admin} {
		if err := f.store.Create(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return f
}

func actorOf(u models.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

func (f *fixture) acceptedDeal(t *testing.T) models.Deal {
	t.Helper()
	ctx := context.Background()
	req, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	deal, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), req.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return deal
}

func TestSendCollabRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.influencer.ID, "  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if req.Status != models.RequestPending || req.InitialMessage != DefaultInitialMessage || !req.Timestamp.Equal(f.now) {
		t.Fatalf("unexpected request %+v", req)
	}

	var mirrored models.CollabRequest
	if err := f.mirror.Decode("requests/"+req.ID, &mirrored); err != nil {
		t.Fatalf("expected request to be mirrored: %v", err)
	}

	if _, err := f.service.SendCollabRequest(ctx, actorOf(f.influencer), f.brand.ID, "again"); !errors.Is(err, repositories.ErrConflict) {
		t.Fatalf("expected ErrConflict for second pending request, got %v", err)
	}
	if _, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.brand.ID, ""); !errors.Is(err, ErrSelfRequest) {
		t.Fatalf("expected ErrSelfRequest, got %v", err)
	}
	if _, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), "ghost", ""); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown recipient, got %v", err)
	}
}

func TestBlockedPartyCannotSendOrAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.store.UpdateUser(ctx, f.influencer.ID, func(u models.User) (models.User, error) {
		u.IsBlocked = true
		return u, nil
	}); err != nil {
		t.Fatalf("block: %v", err)
	}

	if _, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), req.ID); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked on accept, got %v", err)
	}
	if _, err := f.service.SendCollabRequest(ctx, actorOf(f.influencer), f.admin.ID, ""); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked on send, got %v", err)
	}
}

func TestAcceptCollabRequestCreatesDeal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.influencer.ID, "Launch reel")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.service.AcceptCollabRequest(ctx, actorOf(f.brand), req.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected sender to be forbidden from accepting, got %v", err)
	}

	f.now = f.now.Add(time.Hour)
	deal, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), req.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if deal.RequestID != req.ID || deal.InfluencerID != f.influencer.ID || deal.BrandID != f.brand.ID {
		t.Fatalf("unexpected deal parties %+v", deal)
	}
	if deal.BrandName != "TrailMix" || deal.InfluencerName != "Riya" || deal.Amount != 15000 {
		t.Fatalf("unexpected deal terms %+v", deal)
	}
	if !deal.Timestamp.Equal(f.now) || !deal.LastUpdated.Equal(f.now) {
		t.Fatalf("unexpected deal timestamps %+v", deal)
	}

	stored, err := f.store.FindRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	if stored.Status != models.RequestAccepted || stored.RespondedAt == nil || !stored.RespondedAt.Equal(f.now) {
		t.Fatalf("unexpected stored request %+v", stored)
	}

	var mirrored models.Deal
	if err := f.mirror.Decode("deals/"+deal.ID, &mirrored); err != nil {
		t.Fatalf("expected deal to be mirrored: %v", err)
	}
	if mirrored.Amount != 15000 {
		t.Fatalf("unexpected mirrored deal %+v", mirrored)
	}

	if _, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), req.ID); !errors.Is(err, ErrRequestResolved) {
		t.Fatalf("expected ErrRequestResolved on second accept, got %v", err)
	}

	deals, err := f.service.ListDeals(ctx, actorOf(f.influencer))
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("expected exactly one deal, got %d", len(deals))
	}
}

func TestConcurrentAcceptsCreateOneDeal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.service.SendCollabRequest(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		resolved  atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), req.ID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrRequestResolved):
				resolved.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || resolved.Load() != 15 {
		t.Fatalf("expected 1 success and 15 resolved, got %d and %d", succeeded.Load(), resolved.Load())
	}

	deals, err := f.store.ListDealsForParty(ctx, "")
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("expected one deal, got %d", len(deals))
	}
}

func TestAcceptWithMissingPartyUsesPlaceholders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	orphan := models.CollabRequest{ID: "r-orphan", FromID: "deleted-brand", ToID: f.influencer.ID, Status: models.RequestPending, Timestamp: f.now}
	if err := f.store.CreateRequest(ctx, orphan); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	deal, err := f.service.AcceptCollabRequest(ctx, actorOf(f.influencer), orphan.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if deal.BrandName != "Brand" || deal.Amount != 0 || deal.InfluencerID != f.influencer.ID {
		t.Fatalf("expected placeholder deal, got %+v", deal)
	}
}

func TestRejectCollabRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.service.SendCollabRequest(ctx, actorOf(f.influencer), f.brand.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	rejected, err := f.service.RejectCollabRequest(ctx, actorOf(f.brand), req.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.RequestRejected || rejected.RespondedAt == nil {
		t.Fatalf("unexpected rejected request %+v", rejected)
	}

	if _, err := f.service.AcceptCollabRequest(ctx, actorOf(f.brand), req.ID); !errors.Is(err, ErrRequestResolved) {
		t.Fatalf("expected ErrRequestResolved accepting rejected request, got %v", err)
	}

	deals, err := f.service.ListDeals(ctx, actorOf(f.admin))
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 0 {
		t.Fatalf("expected no deals after rejection, got %d", len(deals))
	}

	if _, err := f.service.SendCollabRequest(ctx, actorOf(f.influencer), f.brand.ID, "try again"); err != nil {
		t.Fatalf("expected a new request after rejection, got %v", err)
	}
}

func TestDealTracksEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deal := f.acceptedDeal(t)

	if _, err := f.service.UpdateDealStatus(ctx, actorOf(f.brand), deal.ID, models.ProjectShooting, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected brand to be forbidden on project track, got %v", err)
	}
	if _, err := f.service.UpdatePaymentStatus(ctx, actorOf(f.influencer), deal.ID, models.PaymentHeldInEscrow); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected influencer to be forbidden on payment track, got %v", err)
	}
	if _, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, models.ProjectEditing, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected skipped step to be rejected, got %v", err)
	}

	if _, err := f.service.UpdatePaymentStatus(ctx, actorOf(f.brand), deal.ID, models.PaymentHeldInEscrow); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}

	summary, err := f.service.Summary(ctx, actorOf(f.influencer))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != (Summary{PendingPayments: 15000, ActiveDealCount: 1}) {
		t.Fatalf("unexpected summary while in escrow %+v", summary)
	}

	for _, step := range ProjectSteps[1:4] {
		if _, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, step, ""); err != nil {
			t.Fatalf("advance to %s: %v", step, err)
		}
	}
	if _, err := f.service.UpdatePaymentStatus(ctx, actorOf(f.brand), deal.ID, models.PaymentReleased); !errors.Is(err, ErrReleaseBlocked) {
		t.Fatalf("expected release to be blocked before completion, got %v", err)
	}

	f.now = f.now.Add(time.Hour)
	completed, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, models.ProjectCompleted, "https://example.com/reel")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.WorkLink != "https://example.com/reel" || !completed.LastUpdated.Equal(f.now) {
		t.Fatalf("unexpected completed deal %+v", completed)
	}

	released, err := f.service.UpdatePaymentStatus(ctx, actorOf(f.admin), deal.ID, models.PaymentReleased)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.PaymentStatus != models.PaymentReleased {
		t.Fatalf("unexpected released deal %+v", released)
	}

	summary, err = f.service.Summary(ctx, actorOf(f.influencer))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != (Summary{TotalEarned: 15000, ActiveDealCount: 1}) {
		t.Fatalf("unexpected summary after release %+v", summary)
	}

	if _, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, "PUBLISHED", ""); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if _, err := f.service.UpdatePaymentStatus(ctx, actorOf(f.brand), "missing", models.PaymentHeldInEscrow); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown deal, got %v", err)
	}
}

func TestDealVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deal := f.acceptedDeal(t)

	outsider := models.User{ID: "outsider", Email: "o@example.com", Role: models.RoleBrand}
	if err := f.store.Create(ctx, outsider); err != nil {
		t.Fatalf("seed outsider: %v", err)
	}

	if _, err := f.service.Deal(ctx, actorOf(outsider), deal.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected outsider to be forbidden, got %v", err)
	}
	if _, err := f.service.Deal(ctx, actorOf(f.admin), deal.ID); err != nil {
		t.Fatalf("expected admin to read deal: %v", err)
	}

	deals, err := f.service.ListDeals(ctx, actorOf(outsider))
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 0 {
		t.Fatalf("expected outsider to see no deals, got %d", len(deals))
	}

	requests, err := f.service.ListRequests(ctx, actorOf(f.brand))
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 1 || requests[0].Status != models.RequestAccepted {
		t.Fatalf("unexpected requests %+v", requests)
	}
}

// heldMirror parks the first armed Atomic call until release is closed.
type heldMirror struct {
	*realtime.Tree
	armed   atomic.Bool
	held    chan struct{}
	release chan struct{}
}

func (m *heldMirror) Atomic(fn func(*realtime.Txn) error) error {
	if m.armed.CompareAndSwap(true, false) {
		close(m.held)
		<-m.release
	}
	return m.Tree.Atomic(fn)
}

func TestMirrorNeverMovesDealBackward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mirror := &heldMirror{Tree: realtime.NewTree(), held: make(chan struct{}), release: make(chan struct{})}
	f.service.mirror = mirror
	deal := f.acceptedDeal(t)

	var (
		mu       sync.Mutex
		observed []models.ProjectStatus
	)
	unsubscribe := mirror.Subscribe("deals/"+deal.ID, func(v any) {
		var d models.Deal
		if v == nil || realtime.DecodeValue(v, &d) != nil {
			return
		}
		mu.Lock()
		observed = append(observed, d.ProjectStatus)
		mu.Unlock()
	})
	defer unsubscribe()

	mirror.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, models.ProjectShooting, "")
		done <- err
	}()
	<-mirror.held

	if _, err := f.service.UpdateDealStatus(ctx, actorOf(f.influencer), deal.ID, models.ProjectEditing, ""); err != nil {
		t.Fatalf("advance to editing: %v", err)
	}
	close(mirror.release)
	if err := <-done; err != nil {
		t.Fatalf("advance to shooting: %v", err)
	}

	stored, err := f.store.FindDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("find deal: %v", err)
	}
	var mirrored models.Deal
	if err := mirror.Decode("deals/"+deal.ID, &mirrored); err != nil {
		t.Fatalf("decode mirrored deal: %v", err)
	}
	if stored.ProjectStatus != models.ProjectEditing || mirrored.ProjectStatus != stored.ProjectStatus {
		t.Fatalf("store=%s mirror=%s", stored.ProjectStatus, mirrored.ProjectStatus)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(observed); i++ {
		if observed[i].Index() < observed[i-1].Index() {
			t.Fatalf("subscribers saw project track move backward: %v", observed)
		}
	}
}

func TestMirrorKeepsResolvedRequest(t *testing.T) {
	f := newFixture(t)
	deal := f.acceptedDeal(t)

	req, err := f.store.FindRequest(context.Background(), deal.RequestID)
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	stale := req
	stale.Status = models.RequestPending
	stale.RespondedAt = nil
	f.service.mirrorRequest(context.Background(), stale)

	var mirrored models.CollabRequest
	if err := f.mirror.Decode("requests/"+req.ID, &mirrored); err != nil {
		t.Fatalf("decode mirrored request: %v", err)
	}
	if mirrored.Status != models.RequestAccepted {
		t.Fatalf("expected accepted request to survive a late pending write, got %s", mirrored.Status)
	}
}

func TestOpenDirectCollabReusesPairRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opened, created, err := f.service.OpenDirectCollab(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil || !created {
		t.Fatalf("expected a new request, got created=%v err=%v", created, err)
	}
	if opened.Status != models.RequestPending || opened.InitialMessage != DefaultInitialMessage {
		t.Fatalf("unexpected request %+v", opened)
	}

	reverse, created, err := f.service.OpenDirectCollab(ctx, actorOf(f.influencer), f.brand.ID, "hello")
	if err != nil || created || reverse.ID != opened.ID {
		t.Fatalf("expected the counterparty to reuse %s, got %+v created=%v err=%v", opened.ID, reverse, created, err)
	}

	if _, err := f.service.RejectCollabRequest(ctx, actorOf(f.influencer), opened.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	again, created, err := f.service.OpenDirectCollab(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil || created || again.Status != models.RequestRejected {
		t.Fatalf("expected the rejected request to be returned, got %+v created=%v err=%v", again, created, err)
	}

	if _, _, err := f.service.OpenDirectCollab(ctx, actorOf(f.brand), f.brand.ID, ""); !errors.Is(err, ErrSelfRequest) {
		t.Fatalf("expected ErrSelfRequest, got %v", err)
	}
	if _, _, err := f.service.OpenDirectCollab(ctx, actorOf(f.brand), "ghost", ""); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown party, got %v", err)
	}
}

func TestOpenDirectCollabPrefersAcceptedRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deal := f.acceptedDeal(t)

	f.now = f.now.Add(time.Hour)
	later := models.CollabRequest{ID: "later", FromID: f.influencer.ID, ToID: f.brand.ID, Status: models.RequestRejected, Timestamp: f.now}
	if err := f.store.CreateRequest(ctx, later); err != nil {
		t.Fatalf("create rejected request: %v", err)
	}

	got, created, err := f.service.OpenDirectCollab(ctx, actorOf(f.brand), f.influencer.ID, "")
	if err != nil || created || got.ID != deal.RequestID {
		t.Fatalf("expected accepted request %s, got %+v created=%v err=%v", deal.RequestID, got, created, err)
	}
}
