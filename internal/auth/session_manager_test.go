package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collabset/backend/internal/models"
)

var testSecret = []byte("test-secret")

func TestManagerIssueAndRefresh(t *testing.T) {
	store := NewInMemorySessionStore()
	manager := NewManager(testSecret, time.Minute, time.Hour, store)

	tokens, err := manager.Issue(context.Background(), Identity{UserID: "user-1", Role: models.RoleInfluencer})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected non-empty tokens: %+v", tokens)
	}

	refreshed, err := manager.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == tokens.RefreshToken {
		t.Fatal("expected new refresh token")
	}
	if store.Has(tokens.RefreshToken) {
		t.Fatal("old token should have been removed")
	}

	id, err := manager.ParseAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("parse refreshed token: %v", err)
	}
	if id.UserID != "user-1" || id.Role != models.RoleInfluencer {
		t.Fatalf("expected role to survive refresh, got %+v", id)
	}
}

func TestRefreshUsesCurrentRole(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	roles := map[string]models.Role{"user-1": models.RoleInfluencer}
	lookupErr := errors.New("directory offline")
	var failLookup bool
	manager := NewManager(testSecret, time.Minute, time.Hour, store).
		WithRoleLookup(func(_ context.Context, userID string) (models.Role, error) {
			if failLookup {
				return "", lookupErr
			}
			role, ok := roles[userID]
			if !ok {
				return "", ErrSessionNotFound
			}
			return role, nil
		})

	tokens, err := manager.Issue(ctx, Identity{UserID: "user-1", Role: models.RoleInfluencer})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	roles["user-1"] = models.RoleBrand
	refreshed, err := manager.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	id, err := manager.ParseAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Role != models.RoleBrand {
		t.Fatalf("expected refreshed token to carry the switched role, got %s", id.Role)
	}

	failLookup = true
	if _, err := manager.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if !store.Has(refreshed.RefreshToken) {
		t.Fatal("a failed lookup must not consume the refresh token")
	}

	failLookup = false
	delete(roles, "user-1")
	if _, err := manager.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for a deleted party, got %v", err)
	}
	if store.Has(refreshed.RefreshToken) {
		t.Fatal("expected the orphaned session to be dropped")
	}
}

func TestManagerIssueValidation(t *testing.T) {
	manager := NewManager(testSecret, time.Minute, time.Hour, NewInMemorySessionStore())
	if _, err := manager.Issue(context.Background(), Identity{}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestManagerRefreshFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(testSecret, time.Minute, time.Millisecond, NewInMemorySessionStore()).
		WithNowFunc(func() time.Time { return now })

	if _, err := manager.Refresh(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found got %v", err)
	}

	tokens, err := manager.Issue(context.Background(), Identity{UserID: "user-1", Role: models.RoleBrand})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Millisecond)

	if _, err := manager.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected refresh expired got %v", err)
	}

	tokens, err = manager.Issue(context.Background(), Identity{UserID: "user-1", Role: models.RoleBrand})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	manager.Revoke(context.Background(), tokens.RefreshToken)
	if _, err := manager.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found after revoke got %v", err)
	}
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(testSecret, time.Minute, time.Hour, NewInMemorySessionStore()).
		WithNowFunc(func() time.Time { return now })

	tokens, err := manager.Issue(context.Background(), Identity{UserID: "user-1", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewManager([]byte("other-secret"), time.Minute, time.Hour, NewInMemorySessionStore()).
		WithNowFunc(func() time.Time { return now })
	if _, err := other.ParseAccessToken(tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign secret, got %v", err)
	}

	if _, err := manager.ParseAccessToken(tokens.AccessToken + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for bad signature, got %v", err)
	}

	if _, err := manager.ParseAccessToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for empty input, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := manager.ParseAccessToken(tokens.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestParseAccessTokenRejectsUnknownRole(t *testing.T) {
	now := time.Now()
	manager := NewManager(testSecret, time.Minute, time.Hour, NewInMemorySessionStore())

	claims := accessClaims{
		Role: "Superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := manager.ParseAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for unknown role, got %v", err)
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: models.RoleBrand})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != "u1" || id.Role != models.RoleBrand {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestInMemorySessionStorePurgeExpired(t *testing.T) {
	store := NewInMemorySessionStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = store.Save(ctx, Session{RefreshToken: "old", UserID: "u1", ExpiresAt: now.Add(-time.Minute)})
	_ = store.Save(ctx, Session{RefreshToken: "fresh", UserID: "u1", ExpiresAt: now.Add(time.Minute)})

	if removed := store.PurgeExpired(now); removed != 1 {
		t.Fatalf("expected 1 purged session, got %d", removed)
	}
	if store.Has("old") || !store.Has("fresh") {
		t.Fatal("expected only the expired session to be purged")
	}
	if err := store.Delete(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting purged session, got %v", err)
	}
}
