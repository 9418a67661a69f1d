package chatsync

import (
	"sync"
	"time"
)

// Debouncer converts raw local input into typing/stopTyping signals. The
// first input after an idle period emits typing; further inputs are
// suppressed until either the quiet period elapses (stopTyping) or the
// message is sent (immediate stopTyping).
type Debouncer struct {
	quiet time.Duration
	start func() // emit typing
	stop  func() // emit stopTyping

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	closed bool
}

// NewDebouncer creates a debouncer with the given quiet period (3s when
// zero) and emit callbacks.
func NewDebouncer(quiet time.Duration, start, stop func()) *Debouncer {
	if quiet <= 0 {
		quiet = 3 * time.Second
	}
	return &Debouncer{quiet: quiet, start: start, stop: stop}
}

// Input records a local content change. The typing signal fires on the
// first call after an idle period; every call resets the quiet timer.
func (d *Debouncer) Input() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	first := !d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.expire)
	d.mu.Unlock()

	if first && d.start != nil {
		d.start()
	}
}

// Sent records that the message went out: the pending timer is canceled
// and stopTyping is emitted immediately if typing was active.
func (d *Debouncer) Sent() {
	d.mu.Lock()
	if d.closed || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if d.stop != nil {
		d.stop()
	}
}

// expire fires when the quiet period elapses without input.
func (d *Debouncer) expire() {
	d.mu.Lock()
	if d.closed || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	if d.stop != nil {
		d.stop()
	}
}

// Close cancels any pending timer. No signal is emitted after Close, so a
// destroyed session cannot receive stray events.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.active = false
}
