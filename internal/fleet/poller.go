package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// pollLoop keeps observed device state current by querying each device
// on a fixed interval. Devices change state outside our control (apps,
// physical switches, schedules on the bulb itself), so without polling
// the registry would drift from reality.
func (m *Manager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.StatePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done.Done():
			return
		case <-ticker.C:
			for _, rec := range m.registry.list() {
				m.pollDevice(rec)
			}
		}
	}
}

// pollDevice issues one state query against a device. The poll is
// skipped when the previous one has not resolved, and yields when the
// device's inflight budget is spent; polling is background freight and
// must never crowd out commands.
func (m *Manager) pollDevice(rec *deviceRecord) {
	if rec.needsRefresh() {
		// Identity still incomplete; the refresh sequence is already
		// querying this device.
		return
	}
	if !rec.tryBeginPoll() {
		m.pollsSkipped.Add(1)
		return
	}

	ch, err := m.sendTo(context.Background(), rec, statePollPayload(rec.featureSet()))
	if err != nil {
		rec.endPoll()
		if errors.Is(err, ErrBackpressure) {
			m.pollsSkipped.Add(1)
		}
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ch
		rec.endPoll()
	}()
}

// statePollPayload picks the query a device can answer. Lights report
// power, colour and label in one LightState; relay products have no
// light engine and get the device-level power query instead.
func statePollPayload(feats protocol.Features) protocol.Payload {
	if feats.Relay {
		return protocol.GetPower{}
	}
	return protocol.LightGet{}
}
