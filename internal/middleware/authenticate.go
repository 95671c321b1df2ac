package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
)

// TokenParser validates access tokens.
type TokenParser interface {
	ParseAccessToken(token string) (auth.Identity, error)
}

// Authenticate requires a valid bearer token and stores the identity on the request context.
// Websocket upgrades may pass the token as the access_token query parameter since browsers
// cannot set headers on them.
func Authenticate(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, r, http.StatusUnauthorized, "missing access token")
				return
			}

			identity, err := parser.ParseAccessToken(token)
			if err != nil {
				message := "invalid access token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "access token expired"
				}
				logging.FromContext(r.Context()).Warn("authentication failed", slog.Any("error", err))
				writeError(w, r, http.StatusUnauthorized, message)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			ctx = logging.WithAttrs(ctx, slog.String("user_id", identity.UserID), slog.String("role", string(identity.Role)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "missing access token")
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, "insufficient role")
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.FromContext(r.Context()).Error("encode error response", slog.Any("error", err))
	}
}
