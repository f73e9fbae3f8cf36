package jbl

import "sync"

// limitedControlThreshold is how many consecutive unanswered commands or
// refused connections it takes before the receiver is presumed to be in
// its low-power ("green") standby, where IP control is unavailable.
const limitedControlThreshold = 3

// limitedControlDetector infers low-power standby from failure patterns.
//
// A receiver in green standby either refuses the control port outright or
// accepts the socket and then never acknowledges anything. Neither case is
// reported by the protocol itself, so the condition is inferred: a run of
// consecutive failures trips the flag, and any inbound frame clears it.
// The onChange callback fires only on transitions.
type limitedControlDetector struct {
	mu       sync.Mutex
	failures int
	limited  bool
	onChange func(limited bool)
}

func newLimitedControlDetector(onChange func(bool)) *limitedControlDetector {
	return &limitedControlDetector{onChange: onChange}
}

// recordFailure counts one unanswered command or refused connection.
func (d *limitedControlDetector) recordFailure() {
	d.mu.Lock()
	d.failures++
	trip := !d.limited && d.failures >= limitedControlThreshold
	if trip {
		d.limited = true
	}
	fn := d.onChange
	d.mu.Unlock()

	if trip && fn != nil {
		fn(true)
	}
}

// recordActivity resets the detector on any proof of life from the
// receiver.
func (d *limitedControlDetector) recordActivity() {
	d.mu.Lock()
	d.failures = 0
	clear := d.limited
	if clear {
		d.limited = false
	}
	fn := d.onChange
	d.mu.Unlock()

	if clear && fn != nil {
		fn(false)
	}
}

// isLimited reports the current inference.
func (d *limitedControlDetector) isLimited() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limited
}
