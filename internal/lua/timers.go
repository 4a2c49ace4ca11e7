package lua

import (
	"sync"
	"time"

	luar "github.com/yuin/gopher-lua"
)

// timerFired is posted to the runtime's single goroutine when a timer set by
// timer.after elapses, since *LState is not safe to call into from the
// time.AfterFunc goroutine directly.
type timerFired struct {
	id uint64
	fn *luar.LFunction
}

// Timers tracks pending timer.after callbacks so timer.cancel can stop them
// before they fire.
type Timers struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*time.Timer
	fired   chan timerFired
}

// NewTimers creates a Timers set that posts fired callbacks onto fired.
func NewTimers(fired chan timerFired) *Timers {
	return &Timers{pending: make(map[uint64]*time.Timer), fired: fired}
}

// After schedules fn to run after d elapses and returns a cancellable id.
func (t *Timers) After(d time.Duration, fn *luar.LFunction) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID

	t.pending[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		t.fired <- timerFired{id: id, fn: fn}
	})
	return id
}

// Cancel stops a pending timer, if it hasn't already fired.
func (t *Timers) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	return timer.Stop()
}

// StopAll cancels every pending timer, used on shutdown.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
}
