package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
)

// RequestHandler serves the collab request endpoints.
type RequestHandler struct {
	Lifecycle LifecycleService
}

type createRequestBody struct {
	ToID    string `json:"toId"`
	Message string `json:"message,omitempty"`
}

// List handles GET /api/v1/requests.
func (h RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	requests, err := h.Lifecycle.ListRequests(r.Context(), actor)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if requests == nil {
		requests = []models.CollabRequest{}
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"requests": requests})
}

// Create handles POST /api/v1/requests.
func (h RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		logging.FromContext(ctx).Warn("invalid collab request payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ToID == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "toId is required")
		return
	}

	req, err := h.Lifecycle.SendCollabRequest(ctx, actor, body.ToID, body.Message)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, req)
}

// OpenDirect handles POST /api/v1/collabs/direct. It answers 200 with the request already
// linking the pair, or 201 with a newly sent one.
func (h RequestHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		logging.FromContext(ctx).Warn("invalid direct collab payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ToID == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "toId is required")
		return
	}

	req, created, err := h.Lifecycle.OpenDirectCollab(ctx, actor, body.ToID, body.Message)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(ctx, w, status, req)
}

// Accept handles POST /api/v1/requests/{requestID}/accept.
func (h RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	deal, err := h.Lifecycle.AcceptCollabRequest(r.Context(), actor, chi.URLParam(r, "requestID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusCreated, deal)
}

// Reject handles POST /api/v1/requests/{requestID}/reject.
func (h RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	req, err := h.Lifecycle.RejectCollabRequest(r.Context(), actor, chi.URLParam(r, "requestID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, req)
}
