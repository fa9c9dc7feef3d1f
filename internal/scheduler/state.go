package scheduler

import (
	"sync"
	"time"

	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/model"
)

// State is the process-local scheduler state shared by the timer loop, manual
// triggers and the status endpoint. A restart clears it.
type State struct {
	mu      sync.Mutex
	running bool
	hours   config.HourSet
	lastRun *model.JobRun
	nextRun *time.Time
	changed chan struct{}
}

// Status is a read-only view of State
type Status struct {
	Running bool          `json:"running"`
	Hours   string        `json:"hours"`
	NextRun *time.Time    `json:"next_run,omitempty"`
	LastRun *model.JobRun `json:"last_run,omitempty"`
}

// NewState creates a state with the given active hours
func NewState(hours config.HourSet) *State {
	return &State{hours: hours, changed: make(chan struct{}, 1)}
}

// TryStart claims the single-flight slot. It never waits.
func (s *State) TryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// Done releases the slot and records the run
func (s *State) Done(run *model.JobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if run != nil {
		cp := *run
		s.lastRun = &cp
	}
}

// Hours returns the active hour set
func (s *State) Hours() config.HourSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hours
}

// SetHours replaces the active hour set and wakes the timer loop
func (s *State) SetHours(h config.HourSet) {
	s.mu.Lock()
	s.hours = h
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *State) setNext(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun = t
}

// Status returns a copy of the current state
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Hours: s.hours.String()}
	if s.nextRun != nil {
		next := *s.nextRun
		st.NextRun = &next
	}
	if s.lastRun != nil {
		last := *s.lastRun
		st.LastRun = &last
	}
	return st
}
