// Package debounce implements a trailing-edge debouncer.
//
// Contract: N calls to Trigger within a window W of each other collapse into
// a single call of fn, made W after the last Trigger.
package debounce

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/clock"
)

type Debouncer struct {
	clock  clock.Clock
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

func New(c clock.Clock, window time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: c, window: window, fn: fn}
}

// Trigger (re)arms the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var t clock.Timer
	t = d.clock.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.stopped || d.timer != t {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
	d.timer = t
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any scheduled call; later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
