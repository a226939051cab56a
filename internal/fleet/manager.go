package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/transport"
)

// eventQueueSize bounds the callback dispatch queue. Events beyond it
// are dropped and counted rather than blocking protocol goroutines.
const eventQueueSize = 256

// closeOnce wraps a close channel with the synchronisation needed to
// close it exactly once.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// event is the internal dispatch envelope; exactly one field is set.
type event struct {
	availability *AvailabilityEvent
	state        *StateEvent
	discovery    *DiscoveryEvent
}

// Options configures a Manager.
type Options struct {
	// Config holds tuning knobs; zero fields take package defaults.
	Config Config

	// Endpoints pins the sockets to specific interface endpoints.
	// Empty means every eligible broadcast interface is used.
	Endpoints []transport.Endpoint

	// Store persists device identity across restarts. Optional.
	Store Store

	// Logger receives operational logging. Optional.
	Logger Logger
}

// ManagerStats is a snapshot of fleet counters for monitoring.
type ManagerStats struct {
	Devices            int
	CommandsAccepted   uint64
	Backpressured      uint64
	DatagramsSent      uint64
	SendErrors         uint64
	Resends            uint64
	ResponsesMatched   uint64
	ResponsesUnmatched uint64
	RequestsExhausted  uint64
	RequestsCancelled  uint64
	DecodeFailures     uint64
	ForeignDatagrams   uint64
	DiscoveryCycles    uint64
	DiscoveryResponses uint64
	PollsSkipped       uint64
	EventsDropped      uint64
}

// Manager is the public face of the fleet: it owns the sockets, the
// registry and the retry machinery, and exposes discovery, commands
// and snapshots to consumers.
type Manager struct {
	cfg    Config
	store  Store
	source uint32

	mu        sync.Mutex
	sockets   []*transport.Socket
	endpoints []transport.Endpoint
	started   atomic.Bool

	registry *registry
	tracker  *inflightTracker
	engine   *retryEngine

	refreshSem   chan struct{}
	discoverNow  chan struct{}
	discoverOnce sync.Once

	events chan event

	callbackMu     sync.RWMutex
	onAvailability func(AvailabilityEvent)
	onState        func(StateEvent)
	onDiscovered   func(DiscoveryEvent)

	loggerMu sync.RWMutex
	logger   Logger

	done *closeOnce
	wg   sync.WaitGroup

	// Statistics (atomic for performance)
	commandsAccepted   atomic.Uint64
	backpressured      atomic.Uint64
	decodeFailures     atomic.Uint64
	foreignDatagrams   atomic.Uint64
	discoveryCycles    atomic.Uint64
	discoveryResponses atomic.Uint64
	pollsSkipped       atomic.Uint64
	eventsDropped      atomic.Uint64
}

// NewManager creates a fleet manager. Call Start to open sockets and
// begin background work, then Discover to begin finding devices.
func NewManager(opts Options) *Manager {
	cfg := opts.Config.withDefaults()

	m := &Manager{
		cfg:         cfg,
		store:       opts.Store,
		source:      randomSource(),
		endpoints:   opts.Endpoints,
		registry:    newRegistry(),
		tracker:     newInflightTracker(cfg.InflightCeiling),
		engine:      newRetryEngine(cfg.ResponseTimeout, cfg.RetryCount),
		refreshSem:  make(chan struct{}, cfg.RefreshConcurrency),
		discoverNow: make(chan struct{}, 1),
		events:      make(chan event, eventQueueSize),
		logger:      noopLogger{},
		done:        newCloseOnce(),
	}
	if opts.Logger != nil {
		m.logger = opts.Logger
	}
	return m
}

// randomSource picks a nonzero client identifier. Devices echo it in
// every response, which is how replies meant for other LAN clients are
// filtered out. Values 0 and 1 have reserved meanings in the protocol.
func randomSource() uint32 {
	for {
		if s := rand.Uint32(); s > 1 {
			return s
		}
	}
}

// Start opens one socket per eligible interface, seeds the registry
// from the store and launches the background loops. It is safe to call
// once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started.Load() {
		return nil
	}

	eps := m.endpoints
	if len(eps) == 0 {
		detected, err := transport.EligibleEndpoints(m.cfg.Interfaces)
		if err != nil {
			return fmt.Errorf("fleet: detecting interfaces: %w", err)
		}
		eps = detected
	}

	for _, ep := range eps {
		sock, err := transport.Open(ctx, transport.Config{Endpoint: ep, Port: m.cfg.Port})
		if err != nil {
			for _, s := range m.sockets {
				s.Close()
			}
			m.sockets = nil
			return fmt.Errorf("fleet: opening socket on %s: %w", ep.Interface, err)
		}
		sock.SetLogger(m.currentLogger())
		sock.SetOnDatagram(func(d transport.Datagram) {
			m.handleDatagram(sock, d)
		})
		m.sockets = append(m.sockets, sock)
	}

	if m.store != nil {
		m.seedFromStore(ctx)
	}

	m.started.Store(true)
	m.wg.Add(2)
	go m.eventLoop()
	go m.sweepLoop()
	if m.cfg.StatePollInterval > 0 {
		m.wg.Add(1)
		go m.pollLoop()
	}

	m.logInfo("fleet manager started",
		"sockets", len(eps),
		"port", m.cfg.Port,
		"devices_seeded", m.registry.count())
	return nil
}

// seedFromStore loads persisted device identities into the registry.
// Every seeded device starts Unknown: persistence proves it existed,
// not that it is still reachable.
func (m *Manager) seedFromStore(ctx context.Context) {
	stored, err := m.store.ListDevices(ctx)
	if err != nil {
		m.logError("loading persisted devices", err)
		return
	}

	now := time.Now()
	for _, sd := range stored {
		serial, err := protocol.ParseSerial(sd.Serial)
		if err != nil {
			m.logWarn("skipping persisted device with bad serial", "serial", sd.Serial)
			continue
		}

		rec := &deviceRecord{
			serial:            serial,
			label:             sd.Label,
			group:             sd.Group,
			location:          sd.Location,
			vendor:            sd.Vendor,
			productID:         sd.Product,
			fwMajor:           sd.FirmwareMajor,
			fwMinor:           sd.FirmwareMinor,
			infoComplete:      true,
			availability:      AvailabilityUnknown,
			availabilitySince: now,
			firstSeen:         sd.FirstSeen,
		}
		if rec.firstSeen.IsZero() {
			rec.firstSeen = now
		}
		if addr, err := net.ResolveUDPAddr("udp4", sd.Address); err == nil {
			rec.addr = addr
		}
		rec.mu.Lock()
		rec.refreshProductLocked()
		rec.mu.Unlock()

		m.registry.seed(rec)
	}
	m.logDebug("registry seeded from store", "devices", len(stored))
}

// Send issues one tracked request against a device. On acceptance the
// returned channel delivers exactly one Outcome when the request
// resolves. Rejection is synchronous: unknown serial, inflight ceiling
// reached, or the manager is not running.
//
// ctx cancellation resolves the request as cancelled; it does not
// count as a device failure.
func (m *Manager) Send(ctx context.Context, serial string, payload protocol.Payload) (<-chan Outcome, error) {
	s, err := protocol.ParseSerial(serial)
	if err != nil {
		return nil, err
	}
	rec, ok := m.registry.get(s)
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return m.sendTo(ctx, rec, payload)
}

// sendTo runs the admission pipeline for one request: inflight permit,
// sequence allocation, then a goroutine that drives the retry loop and
// records the outcome.
func (m *Manager) sendTo(ctx context.Context, rec *deviceRecord, payload protocol.Payload) (<-chan Outcome, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	if !m.started.Load() {
		return nil, ErrNotStarted
	}

	addr, via := rec.endpoint()
	if via == nil {
		// Store-seeded device not yet heard on any socket: try the
		// first one so persisted addresses work before rediscovery.
		via = m.firstSocket()
	}
	if addr == nil || via == nil {
		return nil, ErrInvalidAddress
	}

	pm, err := m.tracker.admit(rec.serial)
	if err != nil {
		m.backpressured.Add(1)
		return nil, err
	}

	ack, res := protocol.ResponseFlags(payload)
	hdr := protocol.Header{
		Source:      m.source,
		Target:      rec.serial,
		AckRequired: ack,
		ResRequired: res,
	}
	req, err := m.engine.begin(hdr, payload, addr, via)
	if err != nil {
		pm.release()
		return nil, err
	}

	m.commandsAccepted.Add(1)
	ch := make(chan Outcome, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		out := m.engine.run(ctx, req)
		pm.release()
		m.recordOutcome(out)
		ch <- out
	}()
	return ch, nil
}

// requestAndWait is the blocking form of sendTo, used by internal
// sequences that need each answer before the next question.
func (m *Manager) requestAndWait(ctx context.Context, rec *deviceRecord, payload protocol.Payload) (protocol.Payload, error) {
	ch, err := m.sendTo(ctx, rec, payload)
	if err != nil {
		return nil, err
	}
	out := <-ch
	return out.Response, out.Err
}

// recordOutcome feeds a resolved request into the availability machine
// and the device's observed state. Cancelled requests record nothing:
// they say something about us, not about the device.
func (m *Manager) recordOutcome(out Outcome) {
	rec, ok := m.registry.get(out.Serial)
	if !ok {
		return
	}
	now := time.Now()

	switch {
	case out.Err == nil:
		tr, changed := rec.recordSuccess(now)
		stateChanged, identityChanged := rec.applyPayload(out.Response)
		if changed {
			m.emitAvailability(rec, tr)
		}
		if stateChanged {
			m.emit(event{state: &StateEvent{State: rec.snapshot()}})
		}
		if identityChanged {
			m.persistDevice(rec)
			// A rename republishes the identity card. The partial
			// updates of an initial refresh stay quiet; its completion
			// publishes one card for all of them.
			if !rec.needsRefresh() {
				m.emit(event{discovery: &DiscoveryEvent{State: rec.snapshot()}})
			}
		}

	case errors.Is(out.Err, ErrRequestExhausted):
		m.logDebug("request exhausted",
			"serial", out.Serial.String(),
			"attempts", out.Attempts,
			"elapsed", out.Elapsed.String())
		if tr, changed := rec.recordFailure(now, m.cfg.GracePeriod); changed {
			m.emitAvailability(rec, tr)
		}
	}
}

// handleDatagram is the socket callback: decode, filter, route. It
// runs on the socket's read goroutine and must stay brief.
func (m *Manager) handleDatagram(via *transport.Socket, d transport.Datagram) {
	pkt, err := protocol.DecodePacket(d.Data)
	if err != nil {
		// Undecodable datagrams are dropped, never resolved: the
		// owning request keeps waiting for its timeout.
		m.decodeFailures.Add(1)
		m.logDebug("dropped undecodable datagram", "from", d.Addr.String(), "error", err)
		return
	}
	if pkt.Header.Source != m.source {
		// Another client's conversation on the same LAN.
		m.foreignDatagrams.Add(1)
		return
	}

	if svc, ok := pkt.Payload.(*protocol.StateService); ok {
		m.handleDiscoveryResponse(via, d.Addr, pkt, svc)
		return
	}
	m.engine.handleResponse(d.Addr, pkt)
}

// GetState returns a snapshot of everything known about a device.
func (m *Manager) GetState(serial string) (DeviceState, error) {
	s, err := protocol.ParseSerial(serial)
	if err != nil {
		return DeviceState{}, err
	}
	rec, ok := m.registry.get(s)
	if !ok {
		return DeviceState{}, ErrDeviceNotFound
	}
	return rec.snapshot(), nil
}

// ListDevices returns a summary of every known device in stable order.
func (m *Manager) ListDevices() []DeviceSummary {
	recs := m.registry.list()
	out := make([]DeviceSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.summary())
	}
	return out
}

// RemoveDevice forgets a device: outstanding requests resolve as
// cancelled, the registry entry is dropped and the persisted identity
// is deleted. The device will reappear on its next discovery response.
func (m *Manager) RemoveDevice(ctx context.Context, serial string) error {
	s, err := protocol.ParseSerial(serial)
	if err != nil {
		return err
	}
	if _, ok := m.registry.remove(s); !ok {
		return ErrDeviceNotFound
	}

	cancelled := m.engine.cancelDevice(s)
	m.logInfo("device removed", "serial", serial, "cancelled_requests", cancelled)

	if m.store != nil {
		if err := m.store.DeleteDevice(ctx, s.String()); err != nil {
			return fmt.Errorf("fleet: deleting persisted device: %w", err)
		}
	}
	return nil
}

// RefreshState requests a fresh light state from the device. For
// multizone devices the zone colours are fetched as well; the returned
// channel carries the light state outcome.
func (m *Manager) RefreshState(ctx context.Context, serial string) (<-chan Outcome, error) {
	s, err := protocol.ParseSerial(serial)
	if err != nil {
		return nil, err
	}
	rec, ok := m.registry.get(s)
	if !ok {
		return nil, ErrDeviceNotFound
	}

	feats := rec.featureSet()
	if feats.Multizone {
		if ch, err := m.sendTo(ctx, rec, zoneQuery(feats)); err == nil {
			m.drainOutcome(ch)
		}
	}
	return m.sendTo(ctx, rec, statePollPayload(feats))
}

// drainOutcome consumes an outcome channel in the background so its
// request goroutine never blocks on delivery.
func (m *Manager) drainOutcome(ch <-chan Outcome) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ch
	}()
}

// persistDevice writes the device's identity through the store.
func (m *Manager) persistDevice(rec *deviceRecord) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveDevice(ctx, rec.storedIdentity()); err != nil {
		m.logError("persisting device", err)
	}
}

// emitAvailability queues one availability transition for callbacks.
func (m *Manager) emitAvailability(rec *deviceRecord, tr transition) {
	m.logInfo("device availability changed",
		"serial", rec.serial.String(),
		"from", tr.from.String(),
		"to", tr.to.String())
	m.emit(event{availability: &AvailabilityEvent{
		Serial: rec.serial.String(),
		From:   tr.from,
		To:     tr.to,
		At:     tr.at,
	}})
}

// emit queues an event for the dispatch goroutine. A full queue drops
// the event rather than blocking protocol goroutines.
func (m *Manager) emit(ev event) {
	if m.isClosed() {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.eventsDropped.Add(1)
	}
}

// eventLoop delivers queued events to the registered callbacks, one at
// a time, with panic isolation.
func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done.Done():
			return
		case ev := <-m.events:
			m.dispatchEvent(ev)
		}
	}
}

func (m *Manager) dispatchEvent(ev event) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("event callback panicked", fmt.Errorf("%v", r))
		}
	}()

	m.callbackMu.RLock()
	onAvailability := m.onAvailability
	onState := m.onState
	onDiscovered := m.onDiscovered
	m.callbackMu.RUnlock()

	switch {
	case ev.availability != nil && onAvailability != nil:
		onAvailability(*ev.availability)
	case ev.state != nil && onState != nil:
		onState(*ev.state)
	case ev.discovery != nil && onDiscovered != nil:
		onDiscovered(*ev.discovery)
	}
}

// sweepLoop periodically re-evaluates the demotion rule so devices
// with no traffic at all still age out of Available and Unknown.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	interval := m.cfg.GracePeriod / 6
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, rec := range m.registry.list() {
				if tr, changed := rec.checkSilence(now, m.cfg.GracePeriod); changed {
					m.emitAvailability(rec, tr)
				}
			}
		}
	}
}

// SetOnAvailability registers the availability transition callback.
func (m *Manager) SetOnAvailability(fn func(AvailabilityEvent)) {
	m.callbackMu.Lock()
	m.onAvailability = fn
	m.callbackMu.Unlock()
}

// SetOnState registers the device state change callback.
func (m *Manager) SetOnState(fn func(StateEvent)) {
	m.callbackMu.Lock()
	m.onState = fn
	m.callbackMu.Unlock()
}

// SetOnDiscovered registers the discovery observation callback.
func (m *Manager) SetOnDiscovered(fn func(DiscoveryEvent)) {
	m.callbackMu.Lock()
	m.onDiscovered = fn
	m.callbackMu.Unlock()
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// Stats returns a snapshot of fleet counters.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Devices:            m.registry.count(),
		CommandsAccepted:   m.commandsAccepted.Load(),
		Backpressured:      m.backpressured.Load(),
		DatagramsSent:      m.engine.datagramsTx.Load(),
		SendErrors:         m.engine.sendErrors.Load(),
		Resends:            m.engine.resends.Load(),
		ResponsesMatched:   m.engine.matched.Load(),
		ResponsesUnmatched: m.engine.unmatched.Load(),
		RequestsExhausted:  m.engine.exhausted.Load(),
		RequestsCancelled:  m.engine.cancelled.Load(),
		DecodeFailures:     m.decodeFailures.Load(),
		ForeignDatagrams:   m.foreignDatagrams.Load(),
		DiscoveryCycles:    m.discoveryCycles.Load(),
		DiscoveryResponses: m.discoveryResponses.Load(),
		PollsSkipped:       m.pollsSkipped.Load(),
		EventsDropped:      m.eventsDropped.Load(),
	}
}

// Close shuts the manager down: sockets first so no new datagrams
// arrive, then every outstanding request resolves as cancelled, then
// the background loops drain. Safe to call more than once.
func (m *Manager) Close() error {
	m.done.Close()

	var firstErr error
	m.mu.Lock()
	for _, sock := range m.sockets {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.sockets = nil
	m.mu.Unlock()

	m.engine.close()
	m.wg.Wait()

	m.logInfo("fleet manager stopped")
	return firstErr
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) firstSocket() sender {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sockets) == 0 {
		return nil
	}
	return m.sockets[0]
}

func (m *Manager) currentLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	m.currentLogger().Debug(msg, keysAndValues...)
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	m.currentLogger().Info(msg, keysAndValues...)
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	m.currentLogger().Warn(msg, keysAndValues...)
}

func (m *Manager) logError(msg string, err error) {
	m.currentLogger().Error(msg, "error", err.Error())
}
