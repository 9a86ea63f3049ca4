// Package timer provides a cancellable scheduled task where the latest
// request wins.
package timer

import (
	"sync"
	"time"
)

// Debouncer runs at most one pending task. Scheduling again replaces the
// pending task; a replaced or cancelled task never runs, even if its timer
// already fired.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	token   uint64
	pending bool
}

// New creates a debouncer with a default delay.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Schedule runs fn after the default delay.
func (d *Debouncer) Schedule(fn func()) uint64 {
	return d.ScheduleAfter(d.delay, fn)
}

// ScheduleAfter runs fn after delay, superseding any pending task. It
// returns the token identifying this request.
func (d *Debouncer) ScheduleAfter(delay time.Duration, fn func()) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.token++
	token := d.token
	d.pending = true
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if token != d.token || !d.pending {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
	return token
}

// Cancel drops the pending task, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.token++
	d.pending = false
}

// Pending reports whether a task is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Current reports whether token identifies the most recent request.
func (d *Debouncer) Current(token uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return token == d.token
}
