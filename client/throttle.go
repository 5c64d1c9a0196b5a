package client

import (
	"sync"
	"time"
)

// Throttler coalesces rapid local updates into at most one send per
// interval without dropping the latest value. The first update after an
// idle interval goes out immediately; later ones overwrite a single
// buffered slot that is flushed once, at the interval boundary, with
// whatever is buffered at that moment.
type Throttler[T any] struct {
	interval time.Duration
	send     func(T)

	mu         sync.Mutex
	lastSent   time.Time
	pending    T
	hasPending bool
	timer      *time.Timer
}

func NewThrottler[T any](interval time.Duration, send func(T)) *Throttler[T] {
	return &Throttler[T]{interval: interval, send: send}
}

// Schedule is called on every local update.
func (t *Throttler[T]) Schedule(value T) {
	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.lastSent) >= t.interval {
		t.lastSent = now
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		var zero T
		t.pending = zero
		t.hasPending = false
		t.mu.Unlock()
		t.send(value)
		return
	}

	t.pending = value
	t.hasPending = true
	if t.timer == nil {
		wait := t.interval - now.Sub(t.lastSent)
		t.timer = time.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

// flush sends the value buffered at flush time, not the one that
// triggered the scheduling.
func (t *Throttler[T]) flush() {
	t.mu.Lock()
	t.timer = nil
	if !t.hasPending {
		t.mu.Unlock()
		return
	}
	value := t.pending
	var zero T
	t.pending = zero
	t.hasPending = false
	t.lastSent = time.Now()
	t.mu.Unlock()
	t.send(value)
}

// Stop cancels any scheduled flush. A buffered value is discarded.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
}
