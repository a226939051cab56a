package fleet

import (
	"sync"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// inflightTracker enforces the per-device ceiling on concurrently
// outstanding requests. Admission is all or nothing: a device at its
// ceiling fails immediately rather than queueing, so callers learn
// about overload synchronously.
//
// The mutex guards counter bookkeeping only and is never held across
// I/O, so admission on one device cannot stall on another device's
// network latency.
type inflightTracker struct {
	ceiling int

	mu     sync.Mutex
	counts map[protocol.Serial]int
}

func newInflightTracker(ceiling int) *inflightTracker {
	return &inflightTracker{
		ceiling: ceiling,
		counts:  make(map[protocol.Serial]int),
	}
}

// admit reserves one inflight slot for the device. It returns
// ErrBackpressure when the device already has ceiling requests
// outstanding. The permit must be released when the request resolves,
// whatever the outcome.
func (t *inflightTracker) admit(serial protocol.Serial) (*permit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counts[serial] >= t.ceiling {
		return nil, ErrBackpressure
	}
	t.counts[serial]++
	return &permit{tracker: t, serial: serial}, nil
}

// outstanding reports the current inflight count for a device.
func (t *inflightTracker) outstanding(serial protocol.Serial) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[serial]
}

// permit represents one admitted request. Release is idempotent, so a
// cancellation path and a resolution path can both release without
// coordinating; the slot is returned exactly once.
type permit struct {
	tracker *inflightTracker
	serial  protocol.Serial
	once    sync.Once
}

// release returns the slot to the device's budget.
func (p *permit) release() {
	p.once.Do(func() {
		t := p.tracker
		t.mu.Lock()
		defer t.mu.Unlock()

		if n := t.counts[p.serial]; n > 1 {
			t.counts[p.serial] = n - 1
		} else {
			// Last slot released: drop the entry so removed devices do
			// not leave counters behind.
			delete(t.counts, p.serial)
		}
	})
}
