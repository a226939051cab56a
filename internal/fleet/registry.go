package fleet

import (
	"net"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// deviceRecord is the registry's view of one device. The serial is
// immutable; everything else is guarded by mu. Locks are held for
// field access only, never across network waits, so a stalled exchange
// with one device cannot block reads of another.
type deviceRecord struct {
	serial protocol.Serial

	mu   sync.Mutex
	addr *net.UDPAddr
	via  sender // socket that last heard this device, nil until discovery

	label       string
	group       string
	location    string
	vendor      uint32
	productID   uint32
	productName string
	fwMajor     uint16
	fwMinor     uint16
	features    protocol.Features

	// infoComplete is set once the post-discovery identity refresh has
	// run to the end, so a restart mid-refresh retries it.
	infoComplete bool

	power    uint16
	color    protocol.HSBK
	zones    []protocol.HSBK
	infrared uint16
	wifiRSSI int

	availability      Availability
	availabilitySince time.Time
	firstSeen         time.Time
	lastSuccess       time.Time
	lastFailure       time.Time

	// pollBusy marks an outstanding state poll so the poller skips the
	// device instead of stacking requests behind a slow one.
	pollBusy bool

	// refreshBusy marks a running identity refresh so overlapping
	// discovery cycles do not start a second one.
	refreshBusy bool
}

// endpoint returns the current address and socket for sends.
func (d *deviceRecord) endpoint() (*net.UDPAddr, sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr, d.via
}

// snapshot returns a copy of the record safe to hand to callers.
func (d *deviceRecord) snapshot() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *deviceRecord) snapshotLocked() DeviceState {
	st := DeviceState{
		Serial:            d.serial.String(),
		Label:             d.label,
		Group:             d.group,
		Location:          d.location,
		Vendor:            d.vendor,
		ProductID:         d.productID,
		ProductName:       d.productName,
		Features:          d.features,
		Availability:      d.availability,
		Power:             d.power,
		Color:             d.color,
		Infrared:          d.infrared,
		WifiRSSI:          d.wifiRSSI,
		FirstSeen:         d.firstSeen,
		LastSuccess:       d.lastSuccess,
		LastFailure:       d.lastFailure,
		AvailabilitySince: d.availabilitySince,
	}
	if d.addr != nil {
		st.Address = d.addr.String()
	}
	if d.fwMajor != 0 || d.fwMinor != 0 {
		st.Firmware = protocol.FirmwareVersion(d.fwMajor, d.fwMinor)
	}
	if len(d.zones) > 0 {
		st.Zones = slices.Clone(d.zones)
	}
	return st
}

// summary returns the compact listing form.
func (d *deviceRecord) summary() DeviceSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := DeviceSummary{
		Serial:       d.serial.String(),
		Label:        d.label,
		ProductName:  d.productName,
		Availability: d.availability,
		LastSuccess:  d.lastSuccess,
	}
	if d.addr != nil {
		s.Address = d.addr.String()
	}
	return s
}

// applyPayload folds a decoded response into the record and reports
// whether any observed state changed. Identity-bearing payloads also
// report that, so callers know when to persist.
func (d *deviceRecord) applyPayload(p protocol.Payload) (stateChanged, identityChanged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg := p.(type) {
	case *protocol.StateLabel:
		if d.label != msg.Label {
			d.label = msg.Label
			stateChanged, identityChanged = true, true
		}
	case *protocol.StateVersion:
		if d.vendor != msg.Vendor || d.productID != msg.Product {
			d.vendor = msg.Vendor
			d.productID = msg.Product
			d.refreshProductLocked()
			stateChanged, identityChanged = true, true
		}
	case *protocol.StateHostFirmware:
		if d.fwMajor != msg.VersionMajor || d.fwMinor != msg.VersionMinor {
			d.fwMajor = msg.VersionMajor
			d.fwMinor = msg.VersionMinor
			d.refreshProductLocked()
			stateChanged, identityChanged = true, true
		}
	case *protocol.StateGroup:
		if d.group != msg.Label {
			d.group = msg.Label
			stateChanged, identityChanged = true, true
		}
	case *protocol.StateLocation:
		if d.location != msg.Label {
			d.location = msg.Label
			stateChanged, identityChanged = true, true
		}
	case *protocol.LightState:
		if d.power != msg.Power || d.color != msg.Color || d.label != msg.Label {
			identityChanged = d.label != msg.Label
			d.power = msg.Power
			d.color = msg.Color
			d.label = msg.Label
			stateChanged = true
		}
	case *protocol.StatePower:
		if d.power != msg.Level {
			d.power = msg.Level
			stateChanged = true
		}
	case *protocol.LightStatePower:
		if d.power != msg.Level {
			d.power = msg.Level
			stateChanged = true
		}
	case *protocol.StateInfrared:
		if d.infrared != msg.Brightness {
			d.infrared = msg.Brightness
			stateChanged = true
		}
	case *protocol.StateWifiInfo:
		if rssi := msg.RSSI(); d.wifiRSSI != rssi {
			d.wifiRSSI = rssi
			stateChanged = true
		}
	case *protocol.StateZone:
		stateChanged = d.applyZoneLocked(int(msg.Count), int(msg.Index), []protocol.HSBK{msg.Color})
	case *protocol.StateMultiZone:
		n := len(msg.Colors)
		if rest := int(msg.Count) - int(msg.Index); rest >= 0 && rest < n {
			n = rest
		}
		stateChanged = d.applyZoneLocked(int(msg.Count), int(msg.Index), msg.Colors[:n])
	case *protocol.StateExtendedColorZones:
		n := int(msg.ColorsCount)
		if n > len(msg.Colors) {
			n = len(msg.Colors)
		}
		stateChanged = d.applyZoneLocked(int(msg.Count), int(msg.Index), msg.Colors[:n])
	}
	return stateChanged, identityChanged
}

// applyZoneLocked writes a window of zone colours at index, resizing
// the zone slice to the device's reported total. The caller must hold
// d.mu.
func (d *deviceRecord) applyZoneLocked(total, index int, colors []protocol.HSBK) bool {
	if total <= 0 || index < 0 || index >= total {
		return false
	}
	changed := false
	if len(d.zones) != total {
		resized := make([]protocol.HSBK, total)
		copy(resized, d.zones)
		d.zones = resized
		changed = true
	}
	for i, c := range colors {
		if index+i >= total {
			break
		}
		if d.zones[index+i] != c {
			d.zones[index+i] = c
			changed = true
		}
	}
	return changed
}

// refreshProductLocked recomputes the product name and feature set
// from vendor, product and firmware. The caller must hold d.mu.
func (d *deviceRecord) refreshProductLocked() {
	if d.vendor == 0 && d.productID == 0 {
		return
	}
	d.productName = protocol.LookupProduct(d.vendor, d.productID).Name
	d.features = protocol.FeaturesFor(d.vendor, d.productID, d.fwMajor, d.fwMinor)
}

// markInfoComplete records that the identity refresh finished.
func (d *deviceRecord) markInfoComplete() {
	d.mu.Lock()
	d.infoComplete = true
	d.mu.Unlock()
}

func (d *deviceRecord) needsRefresh() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.infoComplete
}

// tryBeginPoll reserves the device for one state poll. It fails when a
// previous poll has not resolved yet.
func (d *deviceRecord) tryBeginPoll() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pollBusy {
		return false
	}
	d.pollBusy = true
	return true
}

func (d *deviceRecord) endPoll() {
	d.mu.Lock()
	d.pollBusy = false
	d.mu.Unlock()
}

// tryBeginRefresh reserves the device for one identity refresh.
func (d *deviceRecord) tryBeginRefresh() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refreshBusy {
		return false
	}
	d.refreshBusy = true
	return true
}

func (d *deviceRecord) endRefresh() {
	d.mu.Lock()
	d.refreshBusy = false
	d.mu.Unlock()
}

// featureSet returns the current capability flags.
func (d *deviceRecord) featureSet() protocol.Features {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features
}

// storedIdentity returns the persistable identity of the device.
func (d *deviceRecord) storedIdentity() StoredDevice {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd := StoredDevice{
		Serial:        d.serial.String(),
		Label:         d.label,
		Group:         d.group,
		Location:      d.location,
		Vendor:        d.vendor,
		Product:       d.productID,
		FirmwareMajor: d.fwMajor,
		FirmwareMinor: d.fwMinor,
		FirstSeen:     d.firstSeen,
		LastSeen:      d.lastSuccess,
	}
	if d.addr != nil {
		sd.Address = d.addr.String()
	}
	return sd
}

// registry is the set of known devices keyed by serial. The map mutex
// covers membership only; per-device fields live behind each record's
// own lock.
type registry struct {
	mu      sync.RWMutex
	devices map[protocol.Serial]*deviceRecord
}

func newRegistry() *registry {
	return &registry{devices: make(map[protocol.Serial]*deviceRecord)}
}

func (r *registry) get(serial protocol.Serial) (*deviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[serial]
	return rec, ok
}

// list returns the records in stable serial order.
func (r *registry) list() []*deviceRecord {
	r.mu.RLock()
	recs := make([]*deviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].serial.String() < recs[j].serial.String()
	})
	return recs
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// upsert records a discovery observation. New serials enter in the
// Unknown state; known serials have their address updated when it
// moved, last writer wins.
func (r *registry) upsert(serial protocol.Serial, addr *net.UDPAddr, via sender, now time.Time) (rec *deviceRecord, created, moved bool) {
	r.mu.Lock()
	rec, ok := r.devices[serial]
	if !ok {
		rec = &deviceRecord{
			serial:            serial,
			addr:              addr,
			via:               via,
			availability:      AvailabilityUnknown,
			availabilitySince: now,
			firstSeen:         now,
		}
		r.devices[serial] = rec
		r.mu.Unlock()
		return rec, true, false
	}
	r.mu.Unlock()

	rec.mu.Lock()
	if rec.addr == nil || !rec.addr.IP.Equal(addr.IP) || rec.addr.Port != addr.Port {
		moved = rec.addr != nil
		rec.addr = addr
	}
	rec.via = via
	rec.mu.Unlock()
	return rec, false, moved
}

// seed inserts a persisted device before any network contact. It is a
// no-op when the serial already exists.
func (r *registry) seed(rec *deviceRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[rec.serial]; ok {
		return false
	}
	r.devices[rec.serial] = rec
	return true
}

func (r *registry) remove(serial protocol.Serial) (*deviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[serial]
	if ok {
		delete(r.devices, serial)
	}
	return rec, ok
}
