package core

import "time"

// Debouncer coalesces bursts of signals into a single flush. Each Signal
// re-arms the window; the flush fires on the first Tick at or past the
// deadline. It is not safe for concurrent use; the owner serializes access.
type Debouncer struct {
	window   time.Duration
	pending  bool
	deadline time.Time
	flush    func(time.Time)
}

func NewDebouncer(window time.Duration, flush func(time.Time)) *Debouncer {
	return &Debouncer{window: window, flush: flush}
}

// Signal records an occurrence at now and pushes the flush deadline out by
// the debounce window.
func (d *Debouncer) Signal(now time.Time) {
	d.pending = true
	d.deadline = now.Add(d.window)
}

// Tick flushes a pending signal whose window has elapsed.
func (d *Debouncer) Tick(now time.Time) {
	if !d.pending || now.Before(d.deadline) {
		return
	}
	d.pending = false
	d.flush(now)
}

// Cancel drops any pending signal without flushing.
func (d *Debouncer) Cancel() {
	d.pending = false
}

func (d *Debouncer) Pending() bool { return d.pending }
