package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/collabset/backend/internal/admin"
	"github.com/collabset/backend/internal/auth"
	"github.com/collabset/backend/internal/chat"
	"github.com/collabset/backend/internal/config"
	"github.com/collabset/backend/internal/db"
	"github.com/collabset/backend/internal/deliverables"
	"github.com/collabset/backend/internal/handlers"
	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/middleware"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
	"github.com/collabset/backend/internal/repositories"
	"github.com/collabset/backend/internal/snapshot"
	"github.com/collabset/backend/internal/storage"
	"github.com/collabset/backend/internal/stream"
)

// backend bundles the store implementations selected by config.StoreDriver.
type backend struct {
	users    repositories.UserRepository
	ledger   repositories.LedgerRepository
	chats    repositories.ChatRepository
	sessions auth.SessionStore
	health   handlers.Pinger

	// tree feeds stream subscribers. mirror is the same tree when records are
	// persisted elsewhere and nil when the tree is itself the store.
	tree   *realtime.Tree
	mirror *realtime.Tree

	memorySessions *auth.InMemorySessionStore
}

func memoryBackend() backend {
	store := repositories.NewTreeStore(realtime.NewTree())
	sessions := auth.NewInMemorySessionStore()
	return backend{
		users:          store,
		ledger:         store,
		chats:          store,
		sessions:       sessions,
		tree:           store.Tree(),
		memorySessions: sessions,
	}
}

func postgresBackend(pool db.Pool) backend {
	mirror := realtime.NewTree()
	b := backend{
		users:    repositories.NewPostgresUserRepository(pool),
		ledger:   repositories.NewPostgresLedgerRepository(pool),
		chats:    repositories.NewPostgresChatRepository(pool),
		sessions: repositories.NewPostgresSessionStore(pool),
		tree:     mirror,
		mirror:   mirror,
	}
	if pinger, ok := pool.(handlers.Pinger); ok {
		b.health = pinger
	}
	return b
}

// mirrorWriter returns the mirror as a lifecycle.Mirror, keeping a nil tree a nil interface.
func (b backend) mirrorWriter() lifecycle.Mirror {
	if b.mirror == nil {
		return nil
	}
	return b.mirror
}

// hydrate copies the durable records into the mirror so streams start from current state.
func (b backend) hydrate(ctx context.Context) error {
	if b.mirror == nil {
		return nil
	}
	users, err := b.users.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrate users: %w", err)
	}
	for _, u := range users {
		if err := b.mirror.Write("users/"+u.ID, u); err != nil {
			return err
		}
	}

	requests, err := b.ledger.ListRequestsForParty(ctx, "")
	if err != nil {
		return fmt.Errorf("hydrate requests: %w", err)
	}
	for _, req := range requests {
		if err := b.mirror.Write(stream.RequestsPath+"/"+req.ID, req); err != nil {
			return err
		}
		if req.Status != models.RequestAccepted {
			continue
		}
		messages, err := b.chats.ListMessages(ctx, req.ID, chat.HistoryLimit)
		if err != nil {
			return fmt.Errorf("hydrate chat %s: %w", req.ID, err)
		}
		for _, msg := range messages {
			if err := b.mirror.Write(chat.MessagesPath(req.ID)+"/"+msg.ID, msg); err != nil {
				return err
			}
		}
	}

	deals, err := b.ledger.ListDealsForParty(ctx, "")
	if err != nil {
		return fmt.Errorf("hydrate deals: %w", err)
	}
	for _, d := range deals {
		if err := b.mirror.Write(stream.DealsPath+"/"+d.ID, d); err != nil {
			return err
		}
	}
	return nil
}

// signingSecret returns the configured JWT secret. The memory driver falls back to a
// random per-process secret so local runs need no configuration.
func signingSecret(cfg config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if cfg.StoreDriver != config.DriverMemory {
		return nil, errors.New("COLLABSET_JWT_SECRET must be set")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("no JWT secret configured, using an ephemeral one; tokens will not survive restarts")
	return secret, nil
}

// newSnapshotExporter returns nil when no object store is configured.
func newSnapshotExporter(ctx context.Context, b backend, cfg config.Config) (*snapshot.Exporter, error) {
	if !cfg.ObjectStore.Enabled() {
		return nil, nil
	}
	saver, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	return &snapshot.Exporter{Users: b.users, Ledger: b.ledger, Saver: saver}, nil
}

// services holds the long-running components serve must shut down.
type services struct {
	hub       *stream.Hub
	scheduler *snapshot.Scheduler
	sweeper   *sessionSweeper
}

// Shutdown stops the background workers and disconnects stream clients.
func (s services) Shutdown(ctx context.Context) error {
	var errs []error
	if s.sweeper != nil {
		errs = append(errs, s.sweeper.Shutdown(ctx))
	}
	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Shutdown(ctx))
	}
	if s.hub != nil {
		errs = append(errs, s.hub.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, b backend, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, services, error) {
	secret, err := signingSecret(cfg, logger)
	if err != nil {
		return handlers.Dependencies{}, services{}, err
	}

	mirror := b.mirrorWriter()
	sessions := auth.NewManager(secret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, b.sessions).
		WithRoleLookup(repositories.RoleLookup(b.users))
	metadata := deliverables.NewCachingProvider(
		deliverables.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout),
		cfg.MetadataCacheTTL,
	)

	exporter, err := newSnapshotExporter(ctx, b, cfg)
	if err != nil {
		return handlers.Dependencies{}, services{}, err
	}

	svc := services{hub: stream.NewHub(b.tree, b.ledger, logger)}
	if exporter != nil && cfg.SnapshotInterval > 0 {
		svc.scheduler, err = snapshot.NewScheduler(exporter, cfg.SnapshotInterval, logger)
		if err != nil {
			return handlers.Dependencies{}, services{}, err
		}
	}

	if b.memorySessions != nil {
		svc.sweeper = startSessionSweeper(b.memorySessions, sessionSweepInterval, logger)
	}

	limiterTTL := 10 * cfg.RateLimit.Window
	deps := handlers.Dependencies{
		Logger:       logger,
		Users:        b.users,
		UserList:     b.users,
		Sessions:     sessions,
		Lifecycle:    lifecycle.NewService(b.ledger, mirror),
		Chat:         chat.NewService(b.ledger, b.chats, mirror),
		Admin:        admin.NewService(b.users, b.ledger, mirror),
		Deliverables: metadata,
		Stream:       svc.hub,
		Health:       b.health,
		AuthLimiter:  middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, limiterTTL),
		APILimiter:   middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, limiterTTL),
		NowFunc:      func() time.Time { return time.Now().UTC() },
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	if exporter != nil {
		deps.Snapshots = exporter
	}
	return deps, svc, nil
}
