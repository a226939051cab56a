package fleet

import (
	"context"
	"net"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// Discover kicks off periodic discovery, or requests an immediate
// extra cycle when it is already running. Repeated calls inside the
// cooldown window collapse into one cycle. Idempotent.
func (m *Manager) Discover() error {
	if m.isClosed() {
		return ErrClosed
	}
	if !m.started.Load() {
		return ErrNotStarted
	}

	m.discoverOnce.Do(func() {
		m.wg.Add(1)
		go m.discoveryLoop()
	})

	select {
	case m.discoverNow <- struct{}{}:
	default:
	}
	return nil
}

// discoveryLoop broadcasts a discovery probe on every socket at the
// configured interval, plus on demand with a cooldown so callers
// hammering Discover cannot flood the network.
func (m *Manager) discoveryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()

	m.runDiscoveryCycle()
	last := time.Now()

	for {
		select {
		case <-m.done.Done():
			return
		case <-ticker.C:
			m.runDiscoveryCycle()
			last = time.Now()
		case <-m.discoverNow:
			if time.Since(last) < DefaultDiscoveryCooldown {
				continue
			}
			m.runDiscoveryCycle()
			last = time.Now()
		}
	}
}

// runDiscoveryCycle sends one tagged GetService broadcast per socket.
// Responses are attributed to this cycle until the next one begins;
// there is no per-cycle deadline, so stragglers still count.
func (m *Manager) runDiscoveryCycle() {
	cycle := m.discoveryCycles.Add(1)

	hdr := protocol.Header{
		Tagged: true,
		Source: m.source,
	}
	data := protocol.EncodePacket(hdr, protocol.GetService{})

	m.mu.Lock()
	sockets := m.sockets
	m.mu.Unlock()

	for _, sock := range sockets {
		if err := sock.Broadcast(data); err != nil {
			m.logError("discovery broadcast failed", err)
		}
	}
	m.logDebug("discovery cycle", "cycle", cycle, "sockets", len(sockets))
}

// handleDiscoveryResponse processes one StateService datagram: enter
// new devices in the Unknown state, move known devices that changed
// address, and kick off the identity refresh where needed.
//
// Absence from a cycle is deliberately ignored. Broadcast replies ride
// the same lossy medium as everything else; only failed direct
// requests may demote a device.
func (m *Manager) handleDiscoveryResponse(via sender, src *net.UDPAddr, pkt protocol.Packet, svc *protocol.StateService) {
	if svc.Service != protocol.ServiceUDP {
		return
	}
	serial := pkt.Header.Target
	if serial.IsZero() {
		return
	}
	m.discoveryResponses.Add(1)

	port := int(svc.Port)
	if port <= 0 || port > 65535 {
		port = src.Port
	}
	addr := &net.UDPAddr{IP: src.IP, Port: port}

	rec, created, moved := m.registry.upsert(serial, addr, via, time.Now())
	switch {
	case created:
		m.logInfo("device discovered", "serial", serial.String(), "addr", addr.String())
		m.emit(event{discovery: &DiscoveryEvent{State: rec.snapshot(), New: true}})
	case moved:
		m.logInfo("device address changed", "serial", serial.String(), "addr", addr.String())
		m.emit(event{discovery: &DiscoveryEvent{State: rec.snapshot(), AddressChanged: true}})
		m.persistDevice(rec)
	}

	if (created || rec.needsRefresh()) && rec.tryBeginRefresh() {
		m.wg.Add(1)
		go m.refreshDevice(rec)
	}
}

// refreshDevice completes a sparse registry entry with the bounded
// follow-up queries: version, firmware, group, location and light
// state, then capability extras. Simple bulbs cost five requests,
// multizone strips a couple more. Each answer is folded into the
// record by the normal response path; this goroutine only drives the
// sequence.
//
// Refreshes across the fleet share a small concurrency budget so a
// discovery cycle that surfaces thirty devices does not burst
// hundreds of datagrams onto the network at once.
func (m *Manager) refreshDevice(rec *deviceRecord) {
	defer m.wg.Done()
	defer rec.endRefresh()

	select {
	case m.refreshSem <- struct{}{}:
		defer func() { <-m.refreshSem }()
	case <-m.done.Done():
		return
	}

	ctx := context.Background()
	base := []protocol.Payload{
		protocol.GetVersion{},
		protocol.GetHostFirmware{},
		protocol.GetGroup{},
		protocol.GetLocation{},
		protocol.LightGet{},
	}
	for _, q := range base {
		if _, err := m.requestAndWait(ctx, rec, q); err != nil {
			// Backpressure, cancellation or an exhausted retry budget:
			// either way the device is not answering calmly right now.
			// The next discovery cycle will try again.
			m.logDebug("identity refresh aborted",
				"serial", rec.serial.String(), "error", err)
			return
		}
	}

	feats := rec.featureSet()
	if feats.Multizone {
		if _, err := m.requestAndWait(ctx, rec, zoneQuery(feats)); err != nil {
			m.logDebug("zone refresh failed", "serial", rec.serial.String(), "error", err)
		}
	}
	if feats.Infrared {
		if _, err := m.requestAndWait(ctx, rec, protocol.GetInfrared{}); err != nil {
			m.logDebug("infrared refresh failed", "serial", rec.serial.String(), "error", err)
		}
	}

	rec.markInfoComplete()
	m.persistDevice(rec)

	st := rec.snapshot()
	m.emit(event{discovery: &DiscoveryEvent{State: st}})
	m.logInfo("device identity complete",
		"serial", st.Serial,
		"label", st.Label,
		"product", st.ProductName)
}

// zoneQuery picks the zone state query a device understands. Extended
// multizone answers in one datagram; the legacy query may answer in
// several, of which correlation keeps the first.
func zoneQuery(feats protocol.Features) protocol.Payload {
	if feats.ExtendedMultizone {
		return protocol.GetExtendedColorZones{}
	}
	return protocol.GetColorZones{Start: 0, End: 255}
}
