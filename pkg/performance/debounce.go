// Package performance holds timer helpers shared by the controller.
package performance

import (
	"sync"
	"time"
)

// Debouncer runs keyed deferred calls. Scheduling a key again before its
// timer fires replaces the pending call.
type Debouncer struct {
	mutex  sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates an empty debouncer
func NewDebouncer() *Debouncer {
	return &Debouncer{
		timers: make(map[string]*time.Timer),
	}
}

// Debounce executes fn after d has passed.
// If called again with the same key before d expires, the previous call is cancelled
func (d *Debouncer) Debounce(key string, delay time.Duration, fn func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// Cancel existing timer if it exists
	if timer, exists := d.timers[key]; exists {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mutex.Lock()
		// A replaced timer that already started must not run
		if d.timers[key] != timer {
			d.mutex.Unlock()
			return
		}
		delete(d.timers, key)
		d.mutex.Unlock()
		fn()
	})
	d.timers[key] = timer
}

// Pending reports whether a call for key is scheduled
func (d *Debouncer) Pending(key string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Cancel cancels a pending debounced function call
func (d *Debouncer) Cancel(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if timer, exists := d.timers[key]; exists {
		timer.Stop()
		delete(d.timers, key)
	}
}

// Clear cancels all pending debounced function calls
func (d *Debouncer) Clear() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
