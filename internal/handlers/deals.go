package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/collabset/backend/internal/deliverables"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
)

// DealHandler serves deal tracking, deliverable previews and the financial summary.
type DealHandler struct {
	Lifecycle    LifecycleService
	Deliverables DeliverableProvider
}

type projectStatusBody struct {
	Status   models.ProjectStatus `json:"status"`
	WorkLink string               `json:"workLink,omitempty"`
}

type paymentStatusBody struct {
	Status models.PaymentStatus `json:"status"`
}

// List handles GET /api/v1/deals.
func (h DealHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	deals, err := h.Lifecycle.ListDeals(r.Context(), actor)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if deals == nil {
		deals = []models.Deal{}
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"deals": deals})
}

// Get handles GET /api/v1/deals/{dealID}.
func (h DealHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	deal, err := h.Lifecycle.Deal(r.Context(), actor, chi.URLParam(r, "dealID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, deal)
}

// UpdateProject handles POST /api/v1/deals/{dealID}/project.
func (h DealHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body projectStatusBody
	if err := decodeJSON(w, r, &body); err != nil {
		logging.FromContext(ctx).Warn("invalid project status payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if link := strings.TrimSpace(body.WorkLink); link != "" {
		if err := deliverables.ValidateLink(link); err != nil {
			respondError(ctx, w, err)
			return
		}
	}

	deal, err := h.Lifecycle.UpdateDealStatus(ctx, actor, chi.URLParam(r, "dealID"), body.Status, body.WorkLink)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, deal)
}

// UpdatePayment handles POST /api/v1/deals/{dealID}/payment.
func (h DealHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body paymentStatusBody
	if err := decodeJSON(w, r, &body); err != nil {
		logging.FromContext(ctx).Warn("invalid payment status payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	deal, err := h.Lifecycle.UpdatePaymentStatus(ctx, actor, chi.URLParam(r, "dealID"), body.Status)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, deal)
}

// Deliverable handles GET /api/v1/deals/{dealID}/deliverable.
func (h DealHandler) Deliverable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	deal, err := h.Lifecycle.Deal(ctx, actor, chi.URLParam(r, "dealID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if deal.WorkLink == "" {
		respondMessage(ctx, w, http.StatusNotFound, "deal has no work link yet")
		return
	}
	if h.Deliverables == nil {
		respondError(ctx, w, deliverables.ErrProviderUnavailable)
		return
	}

	metadata, err := h.Deliverables.Lookup(ctx, deal.WorkLink)
	if err != nil {
		logging.FromContext(ctx).Warn("deliverable lookup failed", "dealId", deal.ID, "error", err)
		status, message := classifyError(err)
		if status == http.StatusInternalServerError {
			status, message = http.StatusBadGateway, "unable to fetch deliverable metadata"
		}
		respondMessage(ctx, w, status, message)
		return
	}
	respondJSON(ctx, w, http.StatusOK, metadata)
}

// Summary handles GET /api/v1/summary.
func (h DealHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	summary, err := h.Lifecycle.Summary(r.Context(), actor)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, summary)
}
