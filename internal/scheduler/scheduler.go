// Package scheduler boards the head of the waiting queue at the top of every
// active hour.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/model"
)

// Scheduler drives the Fulfiller from a top-of-hour timer loop
type Scheduler struct {
	fulfiller *Fulfiller
	state     *State
	clock     clock.Clock
	location  *time.Location
	lookahead time.Duration
	enabled   bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler instance
func NewScheduler(f *Fulfiller, enabled bool, lookahead time.Duration) *Scheduler {
	if lookahead <= 0 {
		lookahead = 48 * time.Hour
	}
	return &Scheduler{
		fulfiller: f,
		state:     f.State,
		clock:     f.Clock,
		location:  f.Location,
		lookahead: lookahead,
		enabled:   enabled,
		stopChan:  make(chan struct{}),
	}
}

// State exposes the shared scheduler state
func (s *Scheduler) State() *State {
	return s.state
}

// Start begins the timer loop
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		slog.Info("Boarding scheduler is disabled by configuration")
		return
	}

	slog.Info("Starting boarding scheduler",
		"hours", s.state.Hours().String(),
		"timezone", s.location.String(),
		"lookahead", s.lookahead,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop and waits for an in-flight run
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.enabled {
		return
	}

	slog.Info("Stopping boarding scheduler")
	s.stopOnce.Do(func() { close(s.stopChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Boarding scheduler stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for fulfillment run to complete")
	}
}

// RunNow triggers a run immediately. Active hours still apply.
func (s *Scheduler) RunNow(ctx context.Context) *model.JobRun {
	return s.fulfiller.Run(ctx, model.TriggerManual)
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	var lastFired time.Time
	for {
		from := s.clock.Now()
		if !from.After(lastFired) {
			from = lastFired.Add(time.Nanosecond)
		}

		next, ok := s.state.Hours().Next(from, s.location, s.lookahead)
		if !ok {
			s.state.setNext(nil)
			slog.Warn("No active boarding hour within look-ahead, scheduler idle until hours change",
				"hours", s.state.Hours().String(),
				"lookahead", s.lookahead,
			)
			select {
			case <-s.state.changed:
				continue
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
		s.state.setNext(&next)
		slog.Debug("Next boarding run scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-s.clock.After(next.Sub(s.clock.Now())):
			lastFired = next
			s.fulfiller.Run(ctx, model.TriggerSchedule)
		case <-s.state.changed:
			slog.Info("Boarding hours changed, rescheduling", "hours", s.state.Hours().String())
		case <-s.stopChan:
			return
		case <-ctx.Done():
			slog.Info("Boarding scheduler context done")
			return
		}
	}
}
