package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/collabset/backend/internal/auth"
)

const sessionSweepInterval = 10 * time.Minute

// sessionSweeper drops expired refresh sessions held by the memory driver. The Postgres
// store filters on expires_at and needs no sweeping.
type sessionSweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startSessionSweeper(store *auth.InMemorySessionStore, every time.Duration, logger *slog.Logger) *sessionSweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &sessionSweeper{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if removed := store.PurgeExpired(now.UTC()); removed > 0 {
					logger.Debug("purged expired sessions", slog.Int("removed", removed))
				}
			}
		}
	}()
	return s
}

// Shutdown stops the sweeper and waits for it to exit.
func (s *sessionSweeper) Shutdown(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
