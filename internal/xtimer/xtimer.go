// Package xtimer implements the one-shot, re-armable timer the protocol
// core schedules beacon and topology-update work on: a timer fires at most
// once, and re-arming an armed timer cancels the pending fire and replaces
// it.
package xtimer

import (
	"sync"
	"time"
)

// Timer is a one-shot timer that can be re-armed. The zero value is ready
// to use.
type Timer struct {
	mu sync.Mutex
	t  *time.Timer
}

// Set arms the timer to fire callback after d, cancelling any pending fire
// first. callback runs on its own goroutine, as time.AfterFunc does; the
// caller is responsible for funneling it back through whatever
// serialization it needs (the protocol engine submits it as a dispatch-loop
// job rather than running it inline).
func (t *Timer) Set(d time.Duration, callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, callback)
}

// Stop cancels any pending fire. It is safe to call on a Timer that was
// never armed.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
}
