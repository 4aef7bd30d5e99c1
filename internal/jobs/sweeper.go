package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts jobs older than MaxAge.
type Sweeper struct {
	store    *Store
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper creates a sweeper. Non-positive intervals default to one hour.
func NewSweeper(logger *slog.Logger, store *Store, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("cleanup sweeper started", "interval", s.interval, "max_age", s.maxAge)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of jobs removed.
func (s *Sweeper) Sweep() int {
	return s.store.CleanupOlderThan(s.maxAge)
}
