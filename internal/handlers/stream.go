package handlers

import "net/http"

// StreamHandler upgrades authenticated callers to the change stream.
type StreamHandler struct {
	Stream StreamServer
}

// Handle serves GET /api/v1/stream.
func (h StreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if h.Stream == nil {
		respondMessage(r.Context(), w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	h.Stream.ServeWS(w, r, actor)
}
