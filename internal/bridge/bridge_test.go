package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/fleet"
	"github.com/nerrad567/gray-logic-lifx/internal/journal"
	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// lastOnTopic returns the most recent publish on a topic.
func (m *MockMQTTClient) lastOnTopic(topic string) (mockPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return mockPublish{}, false
}

// countOnTopic returns how many messages were published on a topic.
func (m *MockMQTTClient) countOnTopic(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.published {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// MockFleet implements FleetManager for testing.
type MockFleet struct {
	mu            sync.Mutex
	devices       map[string]fleet.DeviceState
	sent          []sentCommand
	refreshed     []string
	removed       []string
	sendErr       error
	refreshErr    error
	discoverErr   error
	discoverCalls int
	stats         fleet.ManagerStats

	// Scripted outcome for Send and RefreshState channels.
	outcomeErr      error
	outcomeAttempts int

	onAvailability func(fleet.AvailabilityEvent)
	onState        func(fleet.StateEvent)
	onDiscovered   func(fleet.DiscoveryEvent)
}

type sentCommand struct {
	Serial  string
	Payload protocol.Payload
}

func NewMockFleet() *MockFleet {
	return &MockFleet{
		devices:         make(map[string]fleet.DeviceState),
		outcomeAttempts: 1,
	}
}

func (m *MockFleet) AddDevice(st fleet.DeviceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[st.Serial] = st
}

func (m *MockFleet) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverCalls++
	return m.discoverErr
}

func (m *MockFleet) Send(ctx context.Context, serial string, payload protocol.Payload) (<-chan fleet.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	if _, ok := m.devices[serial]; !ok {
		return nil, fleet.ErrDeviceNotFound
	}
	m.sent = append(m.sent, sentCommand{Serial: serial, Payload: payload})
	return m.outcomeChannel(serial), nil
}

func (m *MockFleet) GetState(serial string) (fleet.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.devices[serial]
	if !ok {
		return fleet.DeviceState{}, fleet.ErrDeviceNotFound
	}
	return st, nil
}

func (m *MockFleet) ListDevices() []fleet.DeviceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make([]fleet.DeviceSummary, 0, len(m.devices))
	for _, st := range m.devices {
		sums = append(sums, fleet.DeviceSummary{
			Serial:       st.Serial,
			Address:      st.Address,
			Label:        st.Label,
			ProductName:  st.ProductName,
			Availability: st.Availability,
		})
	}
	return sums
}

func (m *MockFleet) RemoveDevice(ctx context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[serial]; !ok {
		return fleet.ErrDeviceNotFound
	}
	delete(m.devices, serial)
	m.removed = append(m.removed, serial)
	return nil
}

func (m *MockFleet) RefreshState(ctx context.Context, serial string) (<-chan fleet.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	if _, ok := m.devices[serial]; !ok {
		return nil, fleet.ErrDeviceNotFound
	}
	m.refreshed = append(m.refreshed, serial)
	return m.outcomeChannel(serial), nil
}

// outcomeChannel delivers the scripted outcome on a buffered channel,
// matching the fleet's resolve-then-deliver contract. Caller holds mu.
func (m *MockFleet) outcomeChannel(serial string) <-chan fleet.Outcome {
	ch := make(chan fleet.Outcome, 1)
	out := fleet.Outcome{Attempts: m.outcomeAttempts, Err: m.outcomeErr}
	if s, err := protocol.ParseSerial(serial); err == nil {
		out.Serial = s
	}
	ch <- out
	return ch
}

func (m *MockFleet) SetOnAvailability(fn func(fleet.AvailabilityEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAvailability = fn
}

func (m *MockFleet) SetOnState(fn func(fleet.StateEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

func (m *MockFleet) SetOnDiscovered(fn func(fleet.DiscoveryEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDiscovered = fn
}

func (m *MockFleet) Stats() fleet.ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// SimulateAvailability simulates an availability transition from the fleet.
func (m *MockFleet) SimulateAvailability(ev fleet.AvailabilityEvent) {
	m.mu.Lock()
	fn := m.onAvailability
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// SimulateState simulates an observed state change from the fleet.
func (m *MockFleet) SimulateState(ev fleet.StateEvent) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// SimulateDiscovery simulates a discovery observation from the fleet.
func (m *MockFleet) SimulateDiscovery(ev fleet.DiscoveryEvent) {
	m.mu.Lock()
	fn := m.onDiscovered
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *MockFleet) GetSent() []sentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentCommand, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockFleet) GetRefreshed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.refreshed))
	copy(out, m.refreshed)
	return out
}

func (m *MockFleet) GetRemoved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

func (m *MockFleet) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockFleet) SetOutcome(attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomeAttempts = attempts
	m.outcomeErr = err
}

func (m *MockFleet) SetDiscoverError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverErr = err
}

func (m *MockFleet) SetRefreshError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshErr = err
}

func (m *MockFleet) GetDiscoverCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discoverCalls
}

// Serials used throughout the tests.
const (
	testSerialBulb  = "d0:73:d5:01:02:03"
	testSerialStrip = "d0:73:d5:aa:bb:cc"
)

// testBulbState returns a colour-capable A19 in a known state.
func testBulbState() fleet.DeviceState {
	return fleet.DeviceState{
		Serial:       testSerialBulb,
		Address:      "192.168.1.50:56700",
		Label:        "Shelf",
		Group:        "Lounge",
		Location:     "Home",
		Vendor:       1,
		ProductID:    27,
		ProductName:  "LIFX A19",
		Firmware:     "3.70",
		Features:     protocol.Features{Color: true},
		Availability: fleet.AvailabilityAvailable,
		Power:        65535,
		Color:        protocol.HSBK{Hue: 21845, Saturation: 65535, Brightness: 52428, Kelvin: 3500},
	}
}

// testStripState returns a multizone strip.
func testStripState() fleet.DeviceState {
	st := testBulbState()
	st.Serial = testSerialStrip
	st.Label = "Desk Strip"
	st.ProductID = 32
	st.ProductName = "LIFX Z"
	st.Features = protocol.Features{Color: true, Multizone: true, ExtendedMultizone: true}
	st.Zones = []protocol.HSBK{
		{Hue: 0, Saturation: 65535, Brightness: 65535, Kelvin: 3500},
		{Hue: 32768, Saturation: 65535, Brightness: 65535, Kelvin: 3500},
	}
	return st
}

func createTestBridge(t *testing.T, fm *MockFleet, mqtt *MockMQTTClient) *Bridge {
	t.Helper()
	b, err := New(Options{
		BridgeID: "lifx",
		Version:  "1.0.0",
		Fleet:    fm,
		MQTT:     mqtt,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func startTestBridge(t *testing.T, fm *MockFleet, mqtt *MockMQTTClient) *Bridge {
	t.Helper()
	b := createTestBridge(t, fm, mqtt)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// sendCommand marshals a command and feeds it through the MQTT handler.
func sendCommand(t *testing.T, b *Bridge, serial string, cmd CommandMessage) {
	t.Helper()
	payload, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	b.handleMQTTMessage(CommandTopic(serial), payload)
}

// decodeAck unmarshals the most recent ack on a device's ack topic.
func decodeAck(t *testing.T, mqtt *MockMQTTClient, serial string) AckMessage {
	t.Helper()
	p, ok := mqtt.lastOnTopic(AckTopic(serial))
	if !ok {
		t.Fatalf("no ack published on %s", AckTopic(serial))
	}
	var ack AckMessage
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestNewBridge(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()

	b, err := New(Options{Fleet: fm, MQTT: mqtt})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if b == nil {
		t.Fatal("New() returned nil")
	}
	if b.health == nil {
		t.Error("New() did not create health reporter")
	}
	if b.id != Protocol {
		t.Errorf("default bridge id = %q, want %q", b.id, Protocol)
	}
}

func TestNewBridgeMissingFleet(t *testing.T) {
	_, err := New(Options{MQTT: NewMockMQTTClient()})
	if !errors.Is(err, ErrFleetRequired) {
		t.Errorf("New() error = %v, want ErrFleetRequired", err)
	}
}

func TestNewBridgeMissingMQTT(t *testing.T) {
	_, err := New(Options{Fleet: NewMockFleet()})
	if !errors.Is(err, ErrMQTTRequired) {
		t.Errorf("New() error = %v, want ErrMQTTRequired", err)
	}
}

func TestBridgeStartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())

	b := createTestBridge(t, fm, mqtt)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	subs := mqtt.GetSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}
	if subs[0].Topic != CommandSubscribeTopic() {
		t.Errorf("subscribed to %q, want %q", subs[0].Topic, CommandSubscribeTopic())
	}

	if n := fm.GetDiscoverCalls(); n != 1 {
		t.Errorf("Discover() called %d times, want 1", n)
	}

	if n := mqtt.countOnTopic(HealthTopic()); n == 0 {
		t.Error("expected health message on start")
	}

	// Known devices get their retained topics refreshed on start.
	if p, ok := mqtt.lastOnTopic(DiscoveryTopic(testSerialBulb)); !ok || !p.Retained {
		t.Error("expected retained discovery message for known device")
	}
	if p, ok := mqtt.lastOnTopic(AvailabilityTopic(testSerialBulb)); !ok || !p.Retained {
		t.Error("expected retained availability message for known device")
	}

	b.Stop()

	// Final health message is "stopping".
	p, ok := mqtt.lastOnTopic(HealthTopic())
	if !ok {
		t.Fatal("no health message after stop")
	}
	var health HealthMessage
	if err := json.Unmarshal(p.Payload, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Status != HealthStopping {
		t.Errorf("final health status = %q, want %q", health.Status, HealthStopping)
	}

	// Calling Stop again should be safe (sync.Once)
	b.Stop()
}

func TestBridgeStartDiscoverError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.SetDiscoverError(errors.New("no usable interfaces"))

	b := createTestBridge(t, fm, mqtt)
	if err := b.Start(context.Background()); err == nil {
		t.Error("Start() expected error when discovery cannot start")
	}
	b.Stop()
}

func TestBridgeSetPowerCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-001",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on", "duration_ms": 500.0},
		Source:     "api",
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.LightSetPower)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.LightSetPower", sent[0].Payload)
	}
	if p.Level != protocol.PowerOn {
		t.Errorf("Level = %d, want %d", p.Level, protocol.PowerOn)
	}
	if p.Duration != 500 {
		t.Errorf("Duration = %d, want 500", p.Duration)
	}

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckAccepted {
		t.Errorf("ack status = %q, want %q", ack.Status, AckAccepted)
	}
	if ack.CommandID != "cmd-001" {
		t.Errorf("ack command_id = %q, want cmd-001", ack.CommandID)
	}
	if ack.Address != "192.168.1.50:56700" {
		t.Errorf("ack address = %q, want device address", ack.Address)
	}

	// A successful set command is followed by a confirm poll.
	waitFor(t, time.Second, func() bool {
		return len(fm.GetRefreshed()) == 1
	}, "no state refresh after successful command")
}

func TestBridgeSetPowerRelay(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	relay := testBulbState()
	relay.ProductID = 70
	relay.ProductName = "LIFX Switch"
	relay.Features = protocol.Features{Relay: true}
	fm.AddDevice(relay)
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-002",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "off"},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.SetPower)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetPower", sent[0].Payload)
	}
	if p.Level != protocol.PowerOff {
		t.Errorf("Level = %d, want %d", p.Level, protocol.PowerOff)
	}
}

func TestBridgeSetColorCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-003",
		Timestamp: time.Now().UTC(),
		Command:   "set_color",
		Parameters: map[string]any{
			"hue":         120.0,
			"saturation":  100.0,
			"brightness":  80.0,
			"duration_ms": 250.0,
		},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.LightSetColor)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.LightSetColor", sent[0].Payload)
	}
	if p.Color.Hue != protocol.HueFromDegrees(120) {
		t.Errorf("Hue = %d, want %d", p.Color.Hue, protocol.HueFromDegrees(120))
	}
	if p.Color.Saturation != 65535 {
		t.Errorf("Saturation = %d, want 65535", p.Color.Saturation)
	}
	if p.Color.Brightness != protocol.PercentToScale(80) {
		t.Errorf("Brightness = %d, want %d", p.Color.Brightness, protocol.PercentToScale(80))
	}
	if p.Color.Kelvin != protocol.KelvinNeutral {
		t.Errorf("Kelvin = %d, want %d (default)", p.Color.Kelvin, protocol.KelvinNeutral)
	}
	if p.Duration != 250 {
		t.Errorf("Duration = %d, want 250", p.Duration)
	}
}

func TestBridgeSetColorWhiteOnNonColorDevice(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	white := testBulbState()
	white.Features = protocol.Features{}
	fm.AddDevice(white)
	b := startTestBridge(t, fm, mqtt)

	// A white level with kelvin needs no colour capability.
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-004",
		Timestamp:  time.Now().UTC(),
		Command:    "set_color",
		Parameters: map[string]any{"brightness": 80.0, "kelvin": 2700.0},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p := sent[0].Payload.(*protocol.LightSetColor)
	if p.Color.Hue != 0 || p.Color.Saturation != 0 {
		t.Errorf("white colour carries hue=%d sat=%d, want 0/0", p.Color.Hue, p.Color.Saturation)
	}
	if p.Color.Kelvin != 2700 {
		t.Errorf("Kelvin = %d, want 2700", p.Color.Kelvin)
	}

	// Saturated colour on the same device is refused.
	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-005",
		Timestamp:  time.Now().UTC(),
		Command:    "set_color",
		Parameters: map[string]any{"hue": 10.0, "saturation": 50.0, "brightness": 80.0},
	})

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeNotSupported {
		t.Errorf("ack error = %+v, want code %s", ack.Error, ErrCodeNotSupported)
	}
	if len(fm.GetSent()) != 1 {
		t.Error("refused command must not reach the wire")
	}
}

func TestBridgeUnknownDevice(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-006",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on"},
	})

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeUnknownDevice {
		t.Errorf("ack error = %+v, want code %s", ack.Error, ErrCodeUnknownDevice)
	}
}

func TestBridgeBackpressure(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	fm.SetSendError(fleet.ErrBackpressure)
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-007",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on"},
	})

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeBridgeBusy {
		t.Errorf("ack error = %+v, want code %s", ack.Error, ErrCodeBridgeBusy)
	}
}

func TestBridgeCommandTimeout(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	fm.SetOutcome(8, fleet.ErrRequestExhausted)
	b := startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-008",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on"},
	})

	// First the accepted ack, then the terminal timeout ack.
	waitFor(t, time.Second, func() bool {
		return mqtt.countOnTopic(AckTopic(testSerialBulb)) == 2
	}, "expected accepted and timeout acks")

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckTimeout {
		t.Errorf("ack status = %q, want %q", ack.Status, AckTimeout)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeDeviceUnreachable {
		t.Fatalf("ack error = %+v, want code %s", ack.Error, ErrCodeDeviceUnreachable)
	}
	if ack.Error.Retries != 8 {
		t.Errorf("ack retries = %d, want 8", ack.Error.Retries)
	}

	// Failed commands never trigger a confirm poll.
	if n := len(fm.GetRefreshed()); n != 0 {
		t.Errorf("refreshes = %d, want 0", n)
	}
}

func TestBridgeSetColorZones(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testStripState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialStrip, CommandMessage{
		ID:        "cmd-009",
		Timestamp: time.Now().UTC(),
		Command:   "set_color_zones",
		Parameters: map[string]any{
			"start": 0.0,
			"end":   7.0,
			"color": map[string]any{
				"hue":        240.0,
				"saturation": 100.0,
				"brightness": 60.0,
			},
			"duration_ms": 100.0,
		},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.SetColorZones)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetColorZones", sent[0].Payload)
	}
	if p.Start != 0 || p.End != 7 {
		t.Errorf("zone range = %d-%d, want 0-7", p.Start, p.End)
	}
	if p.Apply != protocol.ZoneApply {
		t.Errorf("Apply = %d, want %d (default)", p.Apply, protocol.ZoneApply)
	}
	if p.Color.Hue != protocol.HueFromDegrees(240) {
		t.Errorf("Hue = %d, want %d", p.Color.Hue, protocol.HueFromDegrees(240))
	}
}

func TestBridgeSetExtendedColorZones(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testStripState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialStrip, CommandMessage{
		ID:        "cmd-010",
		Timestamp: time.Now().UTC(),
		Command:   "set_extended_color_zones",
		Parameters: map[string]any{
			"zone_index": 2.0,
			"apply":      "apply_only",
			"colors": []any{
				map[string]any{"hue": 0.0, "saturation": 100.0, "brightness": 100.0},
				map[string]any{"hue": 120.0, "saturation": 100.0, "brightness": 100.0},
				map[string]any{"hue": 240.0, "saturation": 100.0, "brightness": 100.0},
			},
		},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.SetExtendedColorZones)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetExtendedColorZones", sent[0].Payload)
	}
	if p.Index != 2 {
		t.Errorf("Index = %d, want 2", p.Index)
	}
	if p.ColorsCount != 3 {
		t.Errorf("ColorsCount = %d, want 3", p.ColorsCount)
	}
	if p.Apply != protocol.ZoneApplyOnly {
		t.Errorf("Apply = %d, want %d", p.Apply, protocol.ZoneApplyOnly)
	}
	if p.Colors[1].Hue != protocol.HueFromDegrees(120) {
		t.Errorf("Colors[1].Hue = %d, want %d", p.Colors[1].Hue, protocol.HueFromDegrees(120))
	}
	if p.Colors[3] != (protocol.HSBK{}) {
		t.Error("unused palette slots must stay zero")
	}
}

func TestBridgeMultiZoneEffect(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testStripState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialStrip, CommandMessage{
		ID:        "cmd-011",
		Timestamp: time.Now().UTC(),
		Command:   "set_multizone_effect",
		Parameters: map[string]any{
			"effect":    "move",
			"direction": "towards",
		},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.SetMultiZoneEffect)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetMultiZoneEffect", sent[0].Payload)
	}
	if p.EffectType != protocol.MultiZoneEffectMove {
		t.Errorf("EffectType = %d, want %d", p.EffectType, protocol.MultiZoneEffectMove)
	}
	if p.Instance == 0 {
		t.Error("effect instance must be nonzero")
	}
	if p.Speed != defaultMoveSpeed {
		t.Errorf("Speed = %d, want %d", p.Speed, defaultMoveSpeed)
	}
	// "towards" is encoded as direction 0.
	if dir := uint32(p.Parameters[4]) | uint32(p.Parameters[5])<<8 | uint32(p.Parameters[6])<<16 | uint32(p.Parameters[7])<<24; dir != 0 {
		t.Errorf("direction = %d, want 0", dir)
	}

	// Stopping the effect needs no instance.
	sendCommand(t, b, testSerialStrip, CommandMessage{
		ID:         "cmd-012",
		Timestamp:  time.Now().UTC(),
		Command:    "set_multizone_effect",
		Parameters: map[string]any{"effect": "off"},
	})
	sent = fm.GetSent()
	if len(sent) != 2 {
		t.Fatalf("payloads sent = %d, want 2", len(sent))
	}
	off := sent[1].Payload.(*protocol.SetMultiZoneEffect)
	if off.EffectType != protocol.MultiZoneEffectOff {
		t.Errorf("EffectType = %d, want %d", off.EffectType, protocol.MultiZoneEffectOff)
	}
}

func TestBridgeMatrixEffect(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	tile := testBulbState()
	tile.ProductID = 55
	tile.ProductName = "LIFX Tile"
	tile.Features = protocol.Features{Color: true, Matrix: true}
	fm.AddDevice(tile)
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-013",
		Timestamp: time.Now().UTC(),
		Command:   "set_matrix_effect",
		Parameters: map[string]any{
			"effect": "morph",
			"palette": []any{
				map[string]any{"hue": 0.0, "saturation": 100.0, "brightness": 100.0},
				map[string]any{"hue": 60.0, "saturation": 100.0, "brightness": 100.0},
			},
		},
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.SetTileEffect)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetTileEffect", sent[0].Payload)
	}
	if p.EffectType != protocol.TileEffectMorph {
		t.Errorf("EffectType = %d, want %d", p.EffectType, protocol.TileEffectMorph)
	}
	if p.PaletteCount != 2 {
		t.Errorf("PaletteCount = %d, want 2", p.PaletteCount)
	}
	if p.Speed != defaultMatrixSpeed {
		t.Errorf("Speed = %d, want %d", p.Speed, defaultMatrixSpeed)
	}
	if p.Palette[1].Hue != protocol.HueFromDegrees(60) {
		t.Errorf("Palette[1].Hue = %d, want %d", p.Palette[1].Hue, protocol.HueFromDegrees(60))
	}
}

func TestBridgeInfraredAndHev(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	nightvision := testBulbState()
	nightvision.Features = protocol.Features{Color: true, Infrared: true, Hev: true}
	fm.AddDevice(nightvision)
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-014",
		Timestamp:  time.Now().UTC(),
		Command:    "set_infrared",
		Parameters: map[string]any{"brightness": 50.0},
	})
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-015",
		Timestamp:  time.Now().UTC(),
		Command:    "set_hev_cycle",
		Parameters: map[string]any{"enable": true, "duration_s": 7200.0},
	})

	sent := fm.GetSent()
	if len(sent) != 2 {
		t.Fatalf("payloads sent = %d, want 2", len(sent))
	}
	ir, ok := sent[0].Payload.(*protocol.SetInfrared)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetInfrared", sent[0].Payload)
	}
	if ir.Brightness != protocol.PercentToScale(50) {
		t.Errorf("IR brightness = %d, want %d", ir.Brightness, protocol.PercentToScale(50))
	}
	hev, ok := sent[1].Payload.(*protocol.SetHevCycle)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.SetHevCycle", sent[1].Payload)
	}
	if !hev.Enable || hev.Duration != 7200 {
		t.Errorf("HEV = %+v, want enabled for 7200s", hev)
	}
}

func TestBridgeIdentify(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-016",
		Timestamp: time.Now().UTC(),
		Command:   "identify",
	})

	sent := fm.GetSent()
	if len(sent) != 1 {
		t.Fatalf("payloads sent = %d, want 1", len(sent))
	}
	p, ok := sent[0].Payload.(*protocol.LightSetWaveform)
	if !ok {
		t.Fatalf("payload type = %T, want *protocol.LightSetWaveform", sent[0].Payload)
	}
	if !p.Transient {
		t.Error("identify waveform must be transient")
	}
	if p.Waveform != protocol.WaveformPulse {
		t.Errorf("Waveform = %d, want %d", p.Waveform, protocol.WaveformPulse)
	}
	if p.Cycles != identifyCycles {
		t.Errorf("Cycles = %v, want %v", p.Cycles, identifyCycles)
	}
}

func TestBridgeRefreshCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-017",
		Timestamp: time.Now().UTC(),
		Command:   "refresh",
	})

	if got := fm.GetRefreshed(); len(got) != 1 || got[0] != testSerialBulb {
		t.Errorf("refreshed = %v, want [%s]", got, testSerialBulb)
	}
	if len(fm.GetSent()) != 0 {
		t.Error("refresh must not send a command payload directly")
	}

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckAccepted {
		t.Errorf("ack status = %q, want %q", ack.Status, AckAccepted)
	}

	// A refresh the fleet cannot admit turns into a failed ack.
	fm.SetRefreshError(errors.New("socket closed"))
	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-017b",
		Timestamp: time.Now().UTC(),
		Command:   "refresh",
	})
	ack = decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeBridgeError {
		t.Errorf("ack error = %+v, want code %s", ack.Error, ErrCodeBridgeError)
	}
}

func TestBridgeRemoveCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-018",
		Timestamp: time.Now().UTC(),
		Command:   "remove",
	})

	if got := fm.GetRemoved(); len(got) != 1 || got[0] != testSerialBulb {
		t.Errorf("removed = %v, want [%s]", got, testSerialBulb)
	}

	ack := decodeAck(t, mqtt, testSerialBulb)
	if ack.Status != AckAccepted {
		t.Errorf("ack status = %q, want %q", ack.Status, AckAccepted)
	}

	// Retained topics are blanked so the device disappears for
	// subscribers too.
	for _, topic := range []string{
		StateTopic(testSerialBulb),
		AvailabilityTopic(testSerialBulb),
		DiscoveryTopic(testSerialBulb),
	} {
		p, ok := mqtt.lastOnTopic(topic)
		if !ok {
			t.Errorf("no tombstone published on %s", topic)
			continue
		}
		if len(p.Payload) != 0 || !p.Retained {
			t.Errorf("tombstone on %s = %+v, want empty retained payload", topic, p)
		}
	}
}

func TestBridgeAvailabilityEvent(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	since := time.Now().UTC().Truncate(time.Second)
	fm.SimulateAvailability(fleet.AvailabilityEvent{
		Serial: testSerialBulb,
		From:   fleet.AvailabilityAvailable,
		To:     fleet.AvailabilityUnavailable,
		At:     since,
	})

	p, ok := mqtt.lastOnTopic(AvailabilityTopic(testSerialBulb))
	if !ok {
		t.Fatal("no availability message published")
	}
	if !p.Retained {
		t.Error("availability messages must be retained")
	}
	var msg AvailabilityMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal availability: %v", err)
	}
	if msg.Availability != "unavailable" {
		t.Errorf("availability = %q, want unavailable", msg.Availability)
	}
	if !msg.Since.Equal(since) {
		t.Errorf("since = %v, want %v", msg.Since, since)
	}
	if msg.Address != "192.168.1.50:56700" {
		t.Errorf("address = %q, want device address", msg.Address)
	}
}

func TestBridgeStateEvent(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	fm.SimulateState(fleet.StateEvent{State: testBulbState()})

	p, ok := mqtt.lastOnTopic(StateTopic(testSerialBulb))
	if !ok {
		t.Fatal("no state message published")
	}
	if !p.Retained {
		t.Error("state messages must be retained")
	}
	var msg StateMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if on, _ := msg.State["on"].(bool); !on {
		t.Error("state on = false, want true")
	}
	color, _ := msg.State["color"].(map[string]any)
	if color == nil {
		t.Fatal("state has no color document")
	}
	// 21845/65535 of a full turn is 120 degrees.
	if hue, _ := color["hue"].(float64); hue != 120 {
		t.Errorf("hue = %v, want 120", hue)
	}
	if brightness, _ := color["brightness"].(float64); brightness != 80 {
		t.Errorf("brightness = %v, want 80", brightness)
	}
}

func TestBridgeStateEventZones(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testStripState())
	startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	fm.SimulateState(fleet.StateEvent{State: testStripState()})

	p, ok := mqtt.lastOnTopic(StateTopic(testSerialStrip))
	if !ok {
		t.Fatal("no state message published")
	}
	var msg StateMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	zones, _ := msg.State["zones"].([]any)
	if len(zones) != 2 {
		t.Fatalf("zones = %d, want 2", len(zones))
	}
}

func TestBridgeDiscoveryEvent(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	fm.SimulateDiscovery(fleet.DiscoveryEvent{State: testBulbState(), New: true})

	p, ok := mqtt.lastOnTopic(DiscoveryTopic(testSerialBulb))
	if !ok {
		t.Fatal("no discovery message published")
	}
	if !p.Retained {
		t.Error("discovery messages must be retained")
	}
	var msg DiscoveryMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if msg.Serial != testSerialBulb {
		t.Errorf("serial = %q, want %q", msg.Serial, testSerialBulb)
	}
	if !msg.New {
		t.Error("new = false, want true")
	}
	if msg.Product != "LIFX A19" {
		t.Errorf("product = %q, want LIFX A19", msg.Product)
	}
	found := false
	for _, c := range msg.Capabilities {
		if c == "color" {
			found = true
		}
	}
	if !found {
		t.Errorf("capabilities = %v, want to contain color", msg.Capabilities)
	}
}

func TestBridgeInvalidTopicAndUnknownCategory(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	b := startTestBridge(t, fm, mqtt)

	mqtt.ClearPublished()
	b.handleMQTTMessage("graylogic/command", []byte(`{}`))
	b.handleMQTTMessage("graylogic/nonsense/lifx/"+testSerialBulb, []byte(`{}`))

	if n := len(mqtt.GetPublished()); n != 0 {
		t.Errorf("published %d messages for junk topics, want 0", n)
	}
}

func TestBridgeMetrics(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	b := startTestBridge(t, fm, mqtt)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-019",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on"},
	})
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-020",
		Timestamp: time.Now().UTC(),
		Command:   "no_such_command",
	})

	metrics := b.GetMetrics()
	if !metrics.Connected {
		t.Error("Connected = false, want true")
	}
	if metrics.CommandsReceived != 2 {
		t.Errorf("CommandsReceived = %d, want 2", metrics.CommandsReceived)
	}
	if metrics.CommandsFailed != 1 {
		t.Errorf("CommandsFailed = %d, want 1", metrics.CommandsFailed)
	}
	if metrics.DevicesManaged != 1 {
		t.Errorf("DevicesManaged = %d, want 1", metrics.DevicesManaged)
	}
}

// mockJournal implements journal.Recorder in memory.
type mockJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	prunes  int
}

func (m *mockJournal) Record(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockJournal) List(_ context.Context, _ journal.Filter) (*journal.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.Entry, len(m.entries))
	copy(out, m.entries)
	return &journal.ListResult{Entries: out, Total: len(out), Limit: 50}, nil
}

func (m *mockJournal) Prune(_ context.Context, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes++
	return 0, nil
}

func (m *mockJournal) find(outcome string) (journal.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Outcome == outcome {
			return e, true
		}
	}
	return journal.Entry{}, false
}

func (m *mockJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockJournal) pruneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prunes
}

func startJournalledBridge(t *testing.T, fm *MockFleet, mqtt *MockMQTTClient, j *mockJournal) *Bridge {
	t.Helper()
	b, err := New(Options{
		BridgeID: "lifx",
		Version:  "1.0.0",
		Fleet:    fm,
		MQTT:     mqtt,
		Journal:  j,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestBridgeJournalConfirmedCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	j := &mockJournal{}
	b := startJournalledBridge(t, fm, mqtt, j)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-101",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "on"},
	})

	waitFor(t, time.Second, func() bool {
		_, ok := j.find(outcomeConfirmed)
		return ok
	}, "expected a confirmed journal entry")

	e, _ := j.find(outcomeConfirmed)
	if e.Serial != testSerialBulb {
		t.Errorf("journal serial = %q, want %q", e.Serial, testSerialBulb)
	}
	if e.Command != "set_power" {
		t.Errorf("journal command = %q, want set_power", e.Command)
	}
	if e.CommandID != "cmd-101" {
		t.Errorf("journal command_id = %q, want cmd-101", e.CommandID)
	}
	if attempts, ok := e.Detail["attempts"].(int); !ok || attempts != 1 {
		t.Errorf("journal attempts = %v, want 1", e.Detail["attempts"])
	}
}

func TestBridgeJournalUnreachableCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	fm.SetOutcome(8, fleet.ErrRequestExhausted)
	j := &mockJournal{}
	b := startJournalledBridge(t, fm, mqtt, j)

	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:         "cmd-102",
		Timestamp:  time.Now().UTC(),
		Command:    "set_power",
		Parameters: map[string]any{"level": "off"},
	})

	waitFor(t, time.Second, func() bool {
		_, ok := j.find(outcomeUnreachable)
		return ok
	}, "expected an unreachable journal entry")

	e, _ := j.find(outcomeUnreachable)
	if attempts, ok := e.Detail["attempts"].(int); !ok || attempts != 8 {
		t.Errorf("journal attempts = %v, want 8", e.Detail["attempts"])
	}
}

func TestBridgeJournalRejectedCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	fm.AddDevice(testBulbState())
	j := &mockJournal{}
	b := startJournalledBridge(t, fm, mqtt, j)

	// Rejections are journalled synchronously from the handler.
	sendCommand(t, b, testSerialBulb, CommandMessage{
		ID:        "cmd-103",
		Timestamp: time.Now().UTC(),
		Command:   "warp_drive",
	})

	e, ok := j.find(outcomeRejected)
	if !ok {
		t.Fatal("expected a rejected journal entry")
	}
	if code, _ := e.Detail["code"].(string); code != ErrCodeInvalidCommand {
		t.Errorf("journal code = %q, want %s", code, ErrCodeInvalidCommand)
	}
}

func TestBridgeJournalPruneOnStart(t *testing.T) {
	mqtt := NewMockMQTTClient()
	fm := NewMockFleet()
	j := &mockJournal{}
	startJournalledBridge(t, fm, mqtt, j)

	if j.pruneCount() != 1 {
		t.Errorf("prune calls = %d, want 1", j.pruneCount())
	}
	if j.count() != 0 {
		t.Errorf("journal entries = %d, want 0", j.count())
	}
}
