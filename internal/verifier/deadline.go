// Package verifier drives one customer's payment attempt: it polls the
// verification service, enforces a deadline and notifies the store once.
package verifier

import (
	"sync"
	"time"
)

// DeadlineTimer is a one-shot timer that can be re-armed. At most one timer is
// armed at a time; arming again disarms the previous one first.
type DeadlineTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// Start arms the timer. onExpire runs once, on its own goroutine, unless Stop
// or another Start happens first.
func (d *DeadlineTimer) Start(dur time.Duration, onExpire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
	gen := d.gen
	d.deadline = time.Now().Add(dur)
	d.timer = time.AfterFunc(dur, func() {
		d.mu.Lock()
		if d.gen != gen || d.timer == nil {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.gen++
		d.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
	})
}

// Stop disarms the timer. It is a no-op when nothing is armed.
func (d *DeadlineTimer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
}

// Armed reports whether a timer is waiting to fire.
func (d *DeadlineTimer) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Remaining is the time left before expiry, or zero when disarmed.
func (d *DeadlineTimer) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return 0
	}
	if left := time.Until(d.deadline); left > 0 {
		return left
	}
	return 0
}

// disarmLocked bumps the generation so a callback already waiting on mu sees it is stale.
func (d *DeadlineTimer) disarmLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
