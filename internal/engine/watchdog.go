package engine

import (
	"sync"
	"time"
)

// Watchdog is the engine's sole timeout primitive: armed whenever the engine
// issues a long-running sub-command to a node, disarmed on completion. If it
// fires before the corresponding completion lands, the engine treats the
// outstanding sub-command as a node failure and routes it through error
// handling.
//
// Multiple sub-commands may be outstanding at once during a per-track
// fan-out; Arm/Disarm reference-count so the single underlying
// timer stays running for as long as anything is outstanding, and fires only
// once nothing completes before the deadline.
type Watchdog struct {
	scheduler *Scheduler
	timeoutMS uint32
	onExpired func()

	mu      sync.Mutex
	pending int
	timer   *time.Timer
}

// NewWatchdog constructs a disarmed watchdog. A zero timeoutMS disables the
// watchdog entirely (Arm becomes a no-op) - useful for tests that don't want
// a background timer racing the test's own assertions.
func NewWatchdog(scheduler *Scheduler, timeoutMS uint32, onExpired func()) *Watchdog {
	return &Watchdog{scheduler: scheduler, timeoutMS: timeoutMS, onExpired: onExpired}
}

// Arm records one more outstanding sub-command and starts the timer if it
// wasn't already running.
func (w *Watchdog) Arm() {
	if w.timeoutMS == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending++
	if w.pending == 1 {
		w.timer = time.AfterFunc(time.Duration(w.timeoutMS)*time.Millisecond, w.fire)
	}
}

// Disarm records that one outstanding sub-command completed. Once nothing is
// outstanding, the underlying timer is stopped.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == 0 {
		return
	}

	w.pending--
	if w.pending == 0 && w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Reset clears every outstanding arm and stops the timer - used when a
// cancellation discards the procedure whose sub-commands were being watched.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = 0
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	w.pending = 0
	w.timer = nil
	w.mu.Unlock()

	// onExpired must only touch the engine through its thread-safe inbox
	// - this callback runs on time.AfterFunc's own goroutine, not
	// the scheduler thread.
	w.onExpired()
}
