package main

import (
	"sync"
	"time"
)

// RefreshScheduler re-triggers a POI fetch for the current location while
// the view is active. The timer is one-shot and re-armed from fetch
// completions, so the interval measures "since last completion" and a
// slow network can never stack overlapping refresh cycles.
type RefreshScheduler struct {
	interval time.Duration
	fire     func()

	mu      sync.Mutex
	seq     uint64
	timer   *time.Timer
	stopped bool
}

func NewRefreshScheduler(interval time.Duration, fire func()) *RefreshScheduler {
	return &RefreshScheduler{interval: interval, fire: fire}
}

// Arm starts the countdown, replacing any previously armed timer. At most
// one timer is live at a time. The callback re-checks seq under the lock:
// Timer.Stop cannot recall a callback that already expired, so a stale
// one must suppress itself.
func (s *RefreshScheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if s.stopped || seq != s.seq {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.fire()
	})
}

// Disarm cancels a pending tick without shutting the scheduler down. The
// seq bump also invalidates a callback that expired before the Stop.
func (s *RefreshScheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Stop disarms and refuses any further Arm calls. Idempotent.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a tick is currently pending.
func (s *RefreshScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
