package voice

import (
	"sync"
	"time"
)

// scheduler tracks pending safety-net deletions keyed by channel id. A
// scheduled task is best-effort: it is not required to be cancelled when the
// channel is deleted earlier by the event path, since the delete re-checks
// occupancy and tolerates "already gone".
type scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	// after is time.AfterFunc, replaceable in tests.
	after func(time.Duration, func()) *time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{
		timers: make(map[string]*time.Timer),
		after:  time.AfterFunc,
	}
}

// Schedule arms (or re-arms) the task for a channel id.
func (s *scheduler) Schedule(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = s.after(d, func() {
		s.forget(id)
		fn()
	})
}

// Cancel stops a pending task, if any.
func (s *scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, id)
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
