package tracker

import (
	"sync"
	"time"
)

// schedule calls fn every interval until Stop is called. Calls never
// overlap: the next one is armed only after fn returns.
type schedule struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fn       func()
	stopped  bool
}

func newSchedule(interval time.Duration, fn func()) *schedule {
	s := &schedule{interval: interval, fn: fn}
	s.mu.Lock()
	s.timer = time.AfterFunc(interval, s.fire)
	s.mu.Unlock()
	return s
}

func (s *schedule) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.timer.Reset(s.interval)
	}
}

// Stop cancels the pending call. A call already running finishes, but no
// further calls are made. Safe on a nil schedule.
func (s *schedule) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.timer.Stop()
}
