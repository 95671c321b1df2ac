package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/chat"
	"github.com/collabset/backend/internal/deliverables"
	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/repositories"
	"github.com/collabset/backend/internal/snapshot"
)

const maxBodyBytes = 1 << 20

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondMessage(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

// respondError maps domain and store errors onto HTTP statuses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("operation failed", "error", err)
	}
	respondMessage(ctx, w, status, message)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden, "not permitted for this party"
	case errors.Is(err, lifecycle.ErrBlocked):
		return http.StatusForbidden, "account is blocked"
	case errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, lifecycle.ErrUnknownStatus):
		return http.StatusBadRequest, "unknown status"
	case errors.Is(err, lifecycle.ErrReleaseBlocked):
		return http.StatusConflict, "payment can only be released from escrow once the project is completed"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "status transition not allowed"
	case errors.Is(err, lifecycle.ErrRequestResolved):
		return http.StatusConflict, "collab request already resolved"
	case errors.Is(err, repositories.ErrConflict):
		return http.StatusConflict, "conflicts with an existing record"
	case errors.Is(err, lifecycle.ErrSelfRequest):
		return http.StatusBadRequest, "cannot send a collab request to yourself"
	case errors.Is(err, chat.ErrChatClosed):
		return http.StatusConflict, "chat is only open on accepted collaborations"
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "message text is required"
	case errors.Is(err, chat.ErrMessageTooLong):
		return http.StatusBadRequest, fmt.Sprintf("message text must be at most %d characters", chat.MaxMessageLength)
	case errors.Is(err, deliverables.ErrUnsupportedLink):
		return http.StatusBadRequest, "work link must be an http or https URL"
	case errors.Is(err, deliverables.ErrProviderUnavailable), errors.Is(err, snapshot.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timed out"
	}
	return http.StatusInternalServerError, "internal server error"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// actorFrom returns the authenticated party. Routes using it sit behind Authenticate.
func actorFrom(r *http.Request) (lifecycle.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.UserID == "" {
		return lifecycle.Actor{}, false
	}
	return lifecycle.Actor{ID: identity.UserID, Role: identity.Role}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (lifecycle.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		respondMessage(r.Context(), w, http.StatusUnauthorized, "missing access token")
	}
	return actor, ok
}
