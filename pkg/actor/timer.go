package actor

import (
	"sync"
	"time"
)

// Timer holds at most one pending callback. Arming a new deadline replaces
// the previous one, which matches how the actors schedule their internal
// work: a later schedule always supersedes an earlier one.
type Timer struct {
	mu     sync.Mutex
	clock  Clock
	gen    uint64
	cancel CancelFunc
}

// NewTimer returns an unarmed timer bound to the given clock.
func NewTimer(clock Clock) *Timer {
	return &Timer{clock: clock}
}

// Reset arms the timer to run fn after d, replacing any pending callback.
// fn runs on its own goroutine context without the timer lock held.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.cancel = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			// A later Reset or Stop superseded this callback while it
			// was waiting on the lock.
			t.mu.Unlock()
			return
		}
		t.cancel = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending callback, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Pending reports whether a callback is armed.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
