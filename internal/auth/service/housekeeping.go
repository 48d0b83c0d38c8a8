package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/cachex"
)

const (
	housekeepingLock    = "housekeeping:verification-tokens"
	housekeepingLockTTL = 5 * time.Minute
)

// HousekeepingService periodically deletes expired verification tokens.
// Sessions, login attempts and audit entries are kept for audit continuity.
// A cache lock makes sure only one instance runs a pass at a time.
type HousekeepingService struct {
	Store    store.Store
	Cache    *cachex.Cache
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, cache *cachex.Cache, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Cache:    cache,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs a single cleanup pass and returns how many rows were
// removed. A pass held by another instance is skipped.
func (s *HousekeepingService) RunOnce(ctx context.Context) int64 {
	var deleted int64

	err := s.Cache.WithLock(ctx, housekeepingLock, housekeepingLockTTL, func(ctx context.Context) error {
		n, err := s.Store.VerificationTokens().DeleteExpiredVerificationTokens(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})

	switch {
	case errors.Is(err, cachex.ErrLockHeld):
		s.Logger.Debug("housekeeping skipped, another instance holds the lock")
	case err != nil:
		s.Logger.Error("failed to delete expired verification tokens", "error", err)
	default:
		s.Logger.Info("housekeeping cleanup completed", "verification_tokens_deleted", deleted)
	}
	return deleted
}
