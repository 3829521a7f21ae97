package engine

import (
	"runtime"
	"time"
)

// Clock abstracts the tick loop's time source so tests can drive the
// loop deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// WaitUntil blocks until deadline or until stop is closed. It
	// returns immediately when the deadline has already passed, which
	// keeps the schedule absolute: an overrunning tick is followed by
	// catch-up ticks rather than a drifted deadline.
	WaitUntil(deadline time.Time, stop <-chan struct{})
}

// spinThreshold is the remaining-wait length below which the wall clock
// spins instead of sleeping. Sleeping for sub-500us periods overshoots
// badly on a non-realtime kernel.
const spinThreshold = 500 * time.Microsecond

// wallClock is the production clock: coarse sleep down to the spin
// threshold, then a busy wait to the deadline.
type wallClock struct{}

// NewWallClock returns the production clock.
func NewWallClock() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) WaitUntil(deadline time.Time, stop <-chan struct{}) {
	remaining := time.Until(deadline)
	if remaining > spinThreshold {
		timer := time.NewTimer(remaining - spinThreshold)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}
	}
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return
		default:
		}
		runtime.Gosched()
	}
}
