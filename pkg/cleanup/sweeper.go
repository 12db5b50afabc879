// Package cleanup provides the idle sweeper that abandons sessions whose
// idle budget has run out.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/activity"
)

// Registry is the part of the session registry the sweeper drives.
type Registry interface {
	Cleanup(ctx context.Context, id string) error
}

// Sweeper periodically visits tracked sessions: sessions inside the warning
// window get their warning flag set; sessions past the deadline are cleaned
// up (flushed, marked abandoned, evicted).
type Sweeper struct {
	registry Registry
	clock    *activity.Clock
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper with the given tick interval.
func NewSweeper(registry Registry, clock *activity.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		clock:    clock,
		interval: interval,
		logger:   slog.Default().With("component", "idle_sweeper"),
		now:      time.Now,
	}
}

// Start launches the periodic sweep until Stop is called or ctx is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Idle sweeper started", "interval", s.interval, "idle_budget", s.clock.IdleBudget())
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Idle sweeper stopped")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep runs one pass over all tracked sessions. Exported so tests and
// admin tooling can trigger a pass directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	for id, remaining := range s.clock.Snapshot(now) {
		switch {
		case remaining <= 0:
			s.logger.Info("Session idle deadline reached", "session_id", id)
			if err := s.registry.Cleanup(ctx, id); err != nil {
				s.logger.Error("Idle cleanup failed", "session_id", id, "error", err)
			}
		case remaining <= s.clock.WarningThreshold():
			s.clock.MarkWarning(id)
		}
	}
}
