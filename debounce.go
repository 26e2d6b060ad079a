package main

import (
	"sync"
	"time"
)

// SearchDebouncer turns a raw text-change stream into committed queries:
// a value is committed only after the quiet window passes with no further
// input, and a commit identical to the previous one is dropped.
//
// State is explicit (one timer handle, one last-committed value) rather
// than stream-based; Close releases the timer and stops all emission.
type SearchDebouncer struct {
	quiet  time.Duration
	commit func(string)

	mu      sync.Mutex
	timer   *time.Timer
	last    string
	lastSet bool
	closed  bool
}

func NewSearchDebouncer(quiet time.Duration, commit func(string)) *SearchDebouncer {
	return &SearchDebouncer{quiet: quiet, commit: commit}
}

// Input records a text change and restarts the quiet window. Only the
// value of the final change in a burst survives.
func (d *SearchDebouncer) Input(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.flush(text) })
}

func (d *SearchDebouncer) flush(text string) {
	d.mu.Lock()
	if d.closed || (d.lastSet && text == d.last) {
		d.mu.Unlock()
		return
	}
	d.last = text
	d.lastSet = true
	d.mu.Unlock()
	d.commit(text)
}

// Close stops any pending emission. Idempotent.
func (d *SearchDebouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
