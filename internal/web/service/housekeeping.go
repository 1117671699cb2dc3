package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/steepleworks/steeple/internal/web/notify"
	"github.com/steepleworks/steeple/internal/web/store"
)

// HousekeepingService periodically removes expired sessions and stale
// enrollment challenges so the store does not grow without bound. Each
// sweep's counts are reported to the operational sink.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Sink     notify.Sink
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker. An interval of 0 or
// less defaults to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, sink notify.Sink, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Sink:     sink,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Non-blocking; call Stop to shut
// down gracefully.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress sweep ends.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep immediately on startup.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep removes expired records. Each deletion is independent; a failure in
// one does not stop the others.
func (s *HousekeepingService) sweep() {
	ctx := context.Background()

	sessions, err := s.Store.Sessions().DeleteExpiredSessions(ctx)
	if err != nil {
		s.Logger.Error("failed to delete expired sessions", "error", err)
		s.Sink.Alert(ctx, "housekeeping_sessions_failed", "error", err.Error())
	}

	challenges, err := s.Store.Challenges().DeleteExpiredChallenges(ctx)
	if err != nil {
		s.Logger.Error("failed to delete expired challenges", "error", err)
		s.Sink.Alert(ctx, "housekeeping_challenges_failed", "error", err.Error())
	}

	s.Sink.Event(ctx, "housekeeping_completed",
		"sessions_removed", sessions,
		"challenges_removed", challenges,
	)
}
