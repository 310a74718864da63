package stream

import (
	"sync"
	"time"
)

// Tracker counts in-flight producers on a shared stream. The stream stays
// open while any producer is registered; when the last one resolves, the
// terminal callback fires after a short grace delay so a producer spawned
// immediately after (fan-out handoff) keeps the stream alive.
type Tracker struct {
	mu      sync.Mutex
	active  int
	gen     int // bumped on every Register, invalidates pending closes
	grace   time.Duration
	onIdle  func()
	idleRun bool
}

// NewTracker creates a tracker that invokes onIdle once the producer count
// returns to zero and stays there through the grace window.
func NewTracker(grace time.Duration, onIdle func()) *Tracker {
	if grace <= 0 {
		grace = 100 * time.Millisecond
	}
	return &Tracker{grace: grace, onIdle: onIdle}
}

// Register adds a producer. Call before the producer's goroutine starts.
func (t *Tracker) Register() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	t.gen++
}

// Resolve removes a producer. Extra resolves are ignored rather than
// driving the count negative. When the count reaches zero the grace timer
// starts; a Register during the window cancels the pending close.
func (t *Tracker) Resolve() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		return
	}
	t.active--
	if t.active > 0 {
		return
	}
	gen := t.gen
	time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		fire := t.active == 0 && t.gen == gen && !t.idleRun
		if fire {
			t.idleRun = true
		}
		t.mu.Unlock()
		if fire && t.onIdle != nil {
			t.onIdle()
		}
	})
}

// Active reports the current producer count.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
