package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/fleet"
	"github.com/nerrad567/gray-logic-lifx/internal/journal"
	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command
	// topic (graylogic/command/lifx/{serial}).
	minTopicParts = 4

	// removeTimeout bounds the store delete behind a remove command.
	removeTimeout = 5 * time.Second

	// ackQoS is the QoS level for command acknowledgments.
	ackQoS = 1

	// eventQoS is the QoS level for state, availability, discovery and
	// health messages.
	eventQoS = 1
)

// Bridge mirrors the LIFX fleet onto MQTT. It handles:
//   - Receiving commands from Core via MQTT and dispatching them as
//     tracked UDP requests
//   - Publishing fleet state, availability and discovery events to
//     retained MQTT topics
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id      string
	version string
	fleet   FleetManager
	mqtt    MQTTClient
	health  *HealthReporter
	journal journal.Recorder

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	publishErrors    atomic.Uint64
}

// FleetManager is the surface of the fleet the bridge drives. It is
// satisfied by *fleet.Manager and mocked in tests.
type FleetManager interface {
	// Discover starts or continues periodic device discovery.
	Discover() error

	// Send dispatches a tracked request to a device by serial.
	Send(ctx context.Context, serial string, payload protocol.Payload) (<-chan fleet.Outcome, error)

	// GetState returns a snapshot of everything known about a device.
	GetState(serial string) (fleet.DeviceState, error)

	// ListDevices returns compact summaries of every known device.
	ListDevices() []fleet.DeviceSummary

	// RemoveDevice forgets a device and cancels its outstanding work.
	RemoveDevice(ctx context.Context, serial string) error

	// RefreshState requests an immediate state poll of a device.
	RefreshState(ctx context.Context, serial string) (<-chan fleet.Outcome, error)

	// SetOnAvailability registers the availability transition callback.
	SetOnAvailability(fn func(fleet.AvailabilityEvent))

	// SetOnState registers the observed-state-change callback.
	SetOnState(fn func(fleet.StateEvent))

	// SetOnDiscovered registers the discovery observation callback.
	SetOnDiscovered(fn func(fleet.DiscoveryEvent))

	// Stats returns a snapshot of fleet counters.
	Stats() fleet.ManagerStats
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	// BridgeID identifies this bridge in health messages. Defaults to
	// "lifx".
	BridgeID string

	// Version is the bridge software version reported in health
	// messages.
	Version string

	// HealthInterval is how often health status is published.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Fleet is the device fleet the bridge exposes. Required.
	Fleet FleetManager

	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// Journal records terminal command outcomes. Optional; nil disables
	// journalling.
	Journal journal.Recorder

	// Logger receives operational logging. Optional.
	Logger Logger
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Fleet == nil {
		return nil, ErrFleetRequired
	}
	if opts.MQTT == nil {
		return nil, ErrMQTTRequired
	}

	id := opts.BridgeID
	if id == "" {
		id = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        id,
		version:   opts.Version,
		fleet:     opts.Fleet,
		mqtt:      opts.MQTT,
		journal:   opts.Journal,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  id,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Fleet:     opts.Fleet,
		Metrics:   b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation. It registers the fleet callbacks,
// subscribes to command topics, republishes retained topics for devices
// already known from the store, kicks off discovery and starts health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Callbacks before discovery so no event is missed.
	b.fleet.SetOnAvailability(b.handleAvailability)
	b.fleet.SetOnState(b.handleState)
	b.fleet.SetOnDiscovered(b.handleDiscovery)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, ackQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.republishKnownDevices()
	b.pruneJournal()

	if err := b.fleet.Discover(); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"devices", len(b.fleet.ListDevices()))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for pending operations
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// republishKnownDevices refreshes the retained identity and availability
// topics for devices seeded from the store. Retained messages do not
// survive a broker restart, and after a bridge restart reachability
// confidence genuinely is unknown again, so the previous run's retained
// values would mislead either way.
func (b *Bridge) republishKnownDevices() {
	for _, sum := range b.fleet.ListDevices() {
		st, err := b.fleet.GetState(sum.Serial)
		if err != nil {
			continue
		}
		b.publishDiscovery(st, false, false)
		b.publishAvailability(st.Serial, st.Address, st.Availability.String(), st.AvailabilitySince)
	}
}

// pruneJournal trims journal entries past their retention. Runs once
// per start; the journal grows slowly enough that a per-run sweep
// keeps it bounded.
func (b *Bridge) pruneJournal() {
	if b.journal == nil {
		return
	}
	removed, err := b.journal.Prune(b.ctx, time.Now().Add(-journal.DefaultRetention))
	if err != nil {
		b.logError("journal prune failed", err)
		return
	}
	if removed > 0 {
		b.logInfo("journal pruned", "removed", removed)
	}
}

// handleMQTTMessage routes incoming MQTT messages by topic category.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	category := parts[1]
	serial := parts[len(parts)-1]

	switch category {
	case "command":
		b.handleCommand(serial, payload)
	default:
		b.logError("unknown message category", fmt.Errorf("topic: %s", topic))
	}
}

// handleCommand parses and executes a command message.
func (b *Bridge) handleCommand(serial string, payload []byte) {
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	// The topic segment is authoritative; device_id is informational.
	if cmd.DeviceID == "" {
		cmd.DeviceID = serial
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", serial,
		"command", cmd.Command,
		"source", cmd.Source)

	st, err := b.fleet.GetState(serial)
	if err != nil {
		b.publishAckError(cmd, serial, "", ErrCodeUnknownDevice,
			fmt.Sprintf("device %s is not known to the fleet", serial), 0)
		b.recordCommand(serial, cmd, outcomeRejected, map[string]any{
			"code": ErrCodeUnknownDevice,
		})
		return
	}

	b.executeCommand(serial, st, cmd)
}

// handleAvailability mirrors a fleet availability transition to MQTT.
func (b *Bridge) handleAvailability(ev fleet.AvailabilityEvent) {
	address := ""
	if st, err := b.fleet.GetState(ev.Serial); err == nil {
		address = st.Address
	}
	b.publishAvailability(ev.Serial, address, ev.To.String(), ev.At)
}

// handleState mirrors an observed device state change to MQTT.
func (b *Bridge) handleState(ev fleet.StateEvent) {
	st := ev.State
	msg := NewStateMessage(st.Serial, st.Address, stateDocument(st))
	b.publishJSON(StateTopic(st.Serial), msg, true)
}

// handleDiscovery mirrors a discovery observation to MQTT.
func (b *Bridge) handleDiscovery(ev fleet.DiscoveryEvent) {
	b.publishDiscovery(ev.State, ev.New, ev.AddressChanged)
}

func (b *Bridge) publishAvailability(serial, address, availability string, since time.Time) {
	msg := NewAvailabilityMessage(serial, address, availability, since)
	b.publishJSON(AvailabilityTopic(serial), msg, true)
}

func (b *Bridge) publishDiscovery(st fleet.DeviceState, isNew, moved bool) {
	msg := DiscoveryMessage{
		Timestamp:      time.Now().UTC(),
		Protocol:       Protocol,
		Serial:         st.Serial,
		Address:        st.Address,
		Label:          st.Label,
		Group:          st.Group,
		Location:       st.Location,
		Vendor:         st.Vendor,
		ProductID:      st.ProductID,
		Product:        st.ProductName,
		Firmware:       st.Firmware,
		Capabilities:   capabilityNames(st.Features),
		New:            isNew,
		AddressChanged: moved,
	}
	b.publishJSON(DiscoveryTopic(st.Serial), msg, true)
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, serial, address string, status AckStatus) {
	msg := NewAckMessage(cmd, status, address)
	b.publishJSON(AckTopic(serial), msg, false)
}

// publishAckError publishes a failed or timeout acknowledgment and
// counts the command as failed.
func (b *Bridge) publishAckError(cmd CommandMessage, serial, address, code, message string, retries int) {
	b.commandsFailed.Add(1)

	msg := NewAckError(cmd, address, code, message, retries)
	b.publishJSON(AckTopic(serial), msg, false)

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// publishJSON marshals and publishes a message, counting failures.
func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, eventQoS, retained); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to publish message", fmt.Errorf("topic %s: %w", topic, err))
	}
}

// clearRetained blanks the retained topics of a removed device. An
// empty retained payload deletes the retained message on the broker.
func (b *Bridge) clearRetained(serial string) {
	for _, topic := range []string{StateTopic(serial), AvailabilityTopic(serial), DiscoveryTopic(serial)} {
		if err := b.mqtt.Publish(topic, nil, eventQoS, true); err != nil {
			b.publishErrors.Add(1)
			b.logError("failed to clear retained topic", fmt.Errorf("topic %s: %w", topic, err))
		}
	}
}

// stateDocument flattens a device snapshot into the state payload
// published on the state topic. Raw protocol values are converted to
// human units at this edge.
func stateDocument(st fleet.DeviceState) map[string]any {
	doc := map[string]any{
		"on":    st.Power > 0,
		"label": st.Label,
		"color": colorDocument(st.Color),
	}
	if len(st.Zones) > 0 {
		zones := make([]map[string]any, len(st.Zones))
		for i, z := range st.Zones {
			zones[i] = colorDocument(z)
		}
		doc["zones"] = zones
	}
	if st.Features.Infrared {
		doc["infrared_percent"] = roundTenth(float64(st.Infrared) / 65535 * 100)
	}
	if st.WifiRSSI != 0 {
		doc["wifi_rssi"] = st.WifiRSSI
	}
	return doc
}

// colorDocument converts a wire colour to human units.
func colorDocument(c protocol.HSBK) map[string]any {
	return map[string]any{
		"hue":        roundTenth(c.HueDegrees()),
		"saturation": roundTenth(c.SaturationPercent()),
		"brightness": roundTenth(c.BrightnessPercent()),
		"kelvin":     int(c.Kelvin),
	}
}

// roundTenth keeps published floats to one decimal place.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// Metrics contains bridge counters for monitoring.
type Metrics struct {
	Connected        bool
	CommandsReceived uint64
	CommandsFailed   uint64
	PublishErrors    uint64
	DevicesManaged   int
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Connected:        b.mqtt.IsConnected(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		PublishErrors:    b.publishErrors.Load(),
		DevicesManaged:   len(b.fleet.ListDevices()),
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
