// Package debounce provides a single-slot cancellable timer.
package debounce

import (
	"sync"
	"time"
)

type Stopper interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc; swapped out in tests.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// Timer holds at most one pending callback. Scheduling replaces whatever is
// pending and callbacks never run concurrently with each other.
type Timer struct {
	mu      sync.Mutex
	run     sync.Mutex
	pending Stopper
	gen     uint64

	afterFunc AfterFunc
}

type Option func(*Timer)

func WithAfterFunc(f AfterFunc) Option {
	return func(t *Timer) { t.afterFunc = f }
}

func New(opts ...Option) *Timer {
	t := &Timer{afterFunc: realAfterFunc}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Schedule cancels any pending callback and arms cb to run after delay.
// It reports whether a pending callback was superseded.
func (t *Timer) Schedule(cb func(), delay time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	superseded := t.cancelLocked()
	t.gen++
	gen := t.gen
	t.pending = t.afterFunc(delay, func() { t.fire(gen, cb) })
	return superseded
}

// Cancel drops the pending callback, if any. Safe on an empty slot.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *Timer) cancelLocked() bool {
	if t.pending == nil {
		return false
	}
	t.pending.Stop()
	t.pending = nil
	// a callback that already left the timer queue sees a newer gen and drops itself
	t.gen++
	return true
}

func (t *Timer) fire(gen uint64, cb func()) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	t.run.Lock()
	defer t.run.Unlock()
	cb()
}
