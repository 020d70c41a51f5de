package cron

import (
	"context"
	"sync"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
)

// State is the scheduler lifecycle flag plus the in-flight execution counter.
// The Coordinator is its only writer; the Dispatcher admits firings through it.
type State struct {
	mu       sync.Mutex
	phase    types.SchedulerState
	inFlight int
	idle     chan struct{}
}

func NewState() *State {
	idle := make(chan struct{})
	close(idle)
	return &State{
		phase: types.StateStopped,
		idle:  idle,
	}
}

func (s *State) Phase() types.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *State) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *State) set(phase types.SchedulerState) types.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.phase
	s.phase = phase
	return prev
}

// acquire admits one execution if the scheduler is running. The phase check
// and the increment happen under one lock so a drain never misses a firing.
func (s *State) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != types.StateRunning {
		return false
	}
	if s.inFlight == 0 {
		s.idle = make(chan struct{})
	}
	s.inFlight++
	return true
}

func (s *State) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight == 0 {
		return
	}
	s.inFlight--
	if s.inFlight == 0 {
		close(s.idle)
	}
}

// WaitIdle blocks until no execution is in flight or ctx is done.
func (s *State) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
