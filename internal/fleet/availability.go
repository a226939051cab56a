package fleet

import "time"

// transition captures one availability change for event emission.
type transition struct {
	from Availability
	to   Availability
	at   time.Time
}

// recordSuccess notes a successful exchange and promotes the device
// immediately. Recovery has no debounce: one good response is proof
// enough.
func (d *deviceRecord) recordSuccess(now time.Time) (transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastSuccess = now
	if d.availability == AvailabilityAvailable {
		return transition{}, false
	}
	tr := transition{from: d.availability, to: AvailabilityAvailable, at: now}
	d.availability = AvailabilityAvailable
	d.availabilitySince = now
	return tr, true
}

// recordFailure notes an exhausted request and applies the demotion
// rule. A failure inside the grace window never demotes; the device
// must have been silent for the whole window.
func (d *deviceRecord) recordFailure(now time.Time, grace time.Duration) (transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastFailure = now
	return d.demoteLocked(now, grace)
}

// checkSilence is the sweep path: it applies the same demotion rule on
// a timer, so a device nobody is issuing commands against still gets
// demoted once the grace window passes. The caller must not hold d.mu.
func (d *deviceRecord) checkSilence(now time.Time, grace time.Duration) (transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.demoteLocked(now, grace)
}

// demoteLocked demotes the device when the grace window has elapsed
// without a success. Demotion fires at most once per outage; the state
// check makes repeated evaluation idempotent. The caller must hold
// d.mu.
func (d *deviceRecord) demoteLocked(now time.Time, grace time.Duration) (transition, bool) {
	switch d.availability {
	case AvailabilityUnavailable:
		return transition{}, false

	case AvailabilityUnknown:
		// Never contacted: unreachable once the grace period has
		// passed since the device was first seen.
		if now.Sub(d.firstSeen) <= grace {
			return transition{}, false
		}

	case AvailabilityAvailable:
		// Grace elapsed since the last success, and nothing succeeded
		// after the most recent failure. An idle device with no failed
		// requests on record keeps its state: absence of traffic is
		// not evidence of loss.
		if now.Sub(d.lastSuccess) <= grace || !d.lastFailure.After(d.lastSuccess) {
			return transition{}, false
		}
	}

	tr := transition{from: d.availability, to: AvailabilityUnavailable, at: now}
	d.availability = AvailabilityUnavailable
	d.availabilitySince = now
	return tr, true
}
