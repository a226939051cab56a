package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-lifx/internal/fleet"
)

// defaultHealthInterval is how often health status is published when no
// interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID   string
	instanceID string
	version    string
	startTime  time.Time
	interval   time.Duration
	publisher  HealthPublisher
	fleet      FleetManager
	metrics    MetricsSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// MetricsSource supplies command-path counters for health messages.
// The bridge itself satisfies this.
type MetricsSource interface {
	GetMetrics() Metrics
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Fleet provides device counts and wire statistics.
	Fleet FleetManager

	// Metrics provides command-path counters.
	Metrics MetricsSource
}

// NewHealthReporter creates a new health reporter. Each reporter gets a
// fresh instance identifier so consumers can distinguish a restart from
// a continuing process.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:   cfg.BridgeID,
		instanceID: uuid.New().String(),
		version:    cfg.Version,
		startTime:  time.Now(),
		interval:   interval,
		publisher:  cfg.Publisher,
		fleet:      cfg.Fleet,
		metrics:    cfg.Metrics,
		done:       make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		// Signal shutdown
		close(h.done)

		// Wait for report loop to finish
		h.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// InstanceID returns the identifier minted for this reporter instance.
func (h *HealthReporter) InstanceID() string {
	return h.instanceID
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection. The
// payload carries no instance ID: the will usually outlives the run
// that registered it, and a stale ID would point at the wrong run.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	msg := NewLWTMessage(h.bridgeID)
	return json.Marshal(msg)
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	// Check MQTT connection
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	// UDP is connectionless, so the nearest thing to a lost link is a
	// known fleet with every member timed out.
	if counts := h.deviceCounts(); counts != nil &&
		counts.Total > 0 && counts.Unavailable == counts.Total {
		return HealthDegraded, "no devices reachable"
	}

	// All good
	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	msg := HealthMessage{
		Bridge:        h.bridgeID,
		InstanceID:    h.instanceID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Devices:       h.deviceCounts(),
		Statistics:    h.statistics(),
		Reason:        reason,
	}

	// Serialise to JSON
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(HealthTopic(), payload, eventQoS, true)
}

// deviceCounts breaks the fleet down by availability.
func (h *HealthReporter) deviceCounts() *DeviceCounts {
	if h.fleet == nil {
		return nil
	}

	counts := &DeviceCounts{}
	for _, sum := range h.fleet.ListDevices() {
		counts.Total++
		switch sum.Availability {
		case fleet.AvailabilityAvailable:
			counts.Available++
		case fleet.AvailabilityUnavailable:
			counts.Unavailable++
		default:
			counts.Unknown++
		}
	}
	return counts
}

// statistics assembles the statistics block from the fleet's wire
// counters and the bridge's command-path counters.
func (h *HealthReporter) statistics() *BridgeStatistics {
	stats := &BridgeStatistics{}

	if h.fleet != nil {
		fs := h.fleet.Stats()
		stats.DatagramsSent = fs.DatagramsSent
		stats.Resends = fs.Resends
		stats.ResponsesMatched = fs.ResponsesMatched
		stats.RequestsExhausted = fs.RequestsExhausted
		stats.DiscoveryCycles = fs.DiscoveryCycles
	}
	if h.metrics != nil {
		m := h.metrics.GetMetrics()
		stats.CommandsReceived = m.CommandsReceived
		stats.CommandsFailed = m.CommandsFailed
		stats.PublishErrors = m.PublishErrors
	}
	return stats
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
