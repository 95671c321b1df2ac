package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs an export on a fixed interval until shut down.
type Scheduler struct {
	exporter interface {
		Export(ctx context.Context) (Result, error)
	}
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	start  sync.Once
}

// NewScheduler constructs a scheduler. Start must be called to begin exporting.
func NewScheduler(exporter *Exporter, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if exporter == nil {
		return nil, errors.New("snapshot scheduler requires an exporter")
	}
	if interval <= 0 {
		return nil, errors.New("snapshot scheduler requires a positive interval")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		exporter: exporter,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the background goroutine. Subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.start.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.exporter.Export(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduled snapshot failed", slog.Any("error", err))
			}
		}
	}
}

// Shutdown stops the scheduler and waits for an in-flight export to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.once.Do(s.cancel)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
