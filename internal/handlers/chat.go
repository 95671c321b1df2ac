package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/collabset/backend/internal/logging"
)

// ChatHandler serves collaboration messages.
type ChatHandler struct {
	Chat ChatService
}

type sendMessageBody struct {
	Text string `json:"text"`
}

// List handles GET /api/v1/collabs/{collabID}/messages.
func (h ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	messages, err := h.Chat.List(r.Context(), actor, chi.URLParam(r, "collabID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"messages": messages})
}

// Send handles POST /api/v1/collabs/{collabID}/messages.
func (h ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body sendMessageBody
	if err := decodeJSON(w, r, &body); err != nil {
		logging.FromContext(ctx).Warn("invalid message payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.Chat.Send(ctx, actor, chi.URLParam(r, "collabID"), body.Text)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, msg)
}

// MarkSeen handles POST /api/v1/collabs/{collabID}/messages/seen.
func (h ChatHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	changed, err := h.Chat.MarkSeen(r.Context(), actor, chi.URLParam(r, "collabID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]int{"updated": changed})
}
