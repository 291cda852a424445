package game

import (
	"sync"
	"time"
)

// Timer schedules one deadline per session. Firing is delivered to the
// callback given at Schedule time; Cancel stops a pending deadline.
type Timer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimer() *Timer {
	return &Timer{timers: make(map[string]*time.Timer)}
}

// Schedule arms (or re-arms) the deadline for a session.
func (t *Timer) Schedule(id string, d time.Duration, fire func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[id]; ok {
		old.Stop()
	}

	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()

		fire(id)
	})
}

// Cancel stops the pending deadline for a session, if any.
func (t *Timer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Stop cancels all pending deadlines.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
