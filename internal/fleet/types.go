package fleet

import (
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// Defaults applied by NewManager when the corresponding Config field is
// zero. The discovery interval should be sized against fleet size,
// retry count and response timeout; nothing here auto-tunes it.
const (
	// DefaultDiscoveryInterval is how often a discovery broadcast is
	// sent on each eligible interface.
	DefaultDiscoveryInterval = 60 * time.Second

	// DefaultResponseTimeout is how long one attempt waits for a
	// response before the request is resent.
	DefaultResponseTimeout = 1 * time.Second

	// DefaultRetryCount is the number of attempts per request. Worst
	// case a request resolves after RetryCount * ResponseTimeout.
	DefaultRetryCount = 8

	// DefaultGracePeriod is how long a device must go without a
	// successful exchange before it can be demoted to Unavailable.
	DefaultGracePeriod = 180 * time.Second

	// DefaultInflightCeiling is the per-device cap on concurrently
	// outstanding requests. Admission beyond it fails immediately.
	DefaultInflightCeiling = 8

	// DefaultStatePollInterval is how often each device's light state
	// is polled. Set Config.StatePollInterval negative to disable.
	DefaultStatePollInterval = 10 * time.Second

	// DefaultRefreshConcurrency caps how many freshly discovered
	// devices have their follow-up info requests running at once.
	DefaultRefreshConcurrency = 3

	// DefaultDiscoveryCooldown is the minimum gap between discovery
	// cycles when Discover is called repeatedly.
	DefaultDiscoveryCooldown = 5 * time.Second
)

// Config controls fleet behaviour. The zero value is usable; every
// field falls back to the package defaults above.
type Config struct {
	// Port is the UDP port devices listen on and broadcasts target.
	Port int

	// Interfaces optionally restricts discovery to the named network
	// interfaces. Empty means every eligible broadcast interface.
	Interfaces []string

	// DiscoveryInterval is the gap between periodic discovery cycles.
	DiscoveryInterval time.Duration

	// ResponseTimeout is the per-attempt wait before a resend.
	ResponseTimeout time.Duration

	// RetryCount is the number of send attempts per request.
	RetryCount int

	// GracePeriod is the sustained-silence window required before a
	// device is demoted to Unavailable.
	GracePeriod time.Duration

	// InflightCeiling caps outstanding requests per device.
	InflightCeiling int

	// StatePollInterval is the gap between light state polls per
	// device. Negative disables polling.
	StatePollInterval time.Duration

	// RefreshConcurrency caps concurrent post-discovery info refreshes
	// across the whole fleet.
	RefreshConcurrency int
}

// withDefaults returns a copy of c with zero fields replaced by the
// package defaults.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.InflightCeiling == 0 {
		c.InflightCeiling = DefaultInflightCeiling
	}
	if c.StatePollInterval == 0 {
		c.StatePollInterval = DefaultStatePollInterval
	}
	if c.RefreshConcurrency == 0 {
		c.RefreshConcurrency = DefaultRefreshConcurrency
	}
	return c
}

// Availability reflects confidence that a device is reachable. It is
// advisory: commands may be attempted against an Unavailable device,
// which may well have recovered.
type Availability int

const (
	// AvailabilityUnknown means the device has been seen (discovery or
	// persisted identity) but no tracked request has succeeded yet.
	AvailabilityUnknown Availability = iota

	// AvailabilityAvailable means the most recent evidence says the
	// device answers requests.
	AvailabilityAvailable

	// AvailabilityUnavailable means the device has been silent for at
	// least the grace period.
	AvailabilityUnavailable
)

// String returns the lowercase name used in logs and on the wire.
func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one tracked request. Exactly one
// Outcome is delivered per accepted request.
type Outcome struct {
	// Serial identifies the device the request targeted.
	Serial protocol.Serial

	// Response is the decoded reply. Nil unless Err is nil.
	Response protocol.Payload

	// Attempts is how many sends were made before resolution.
	Attempts int

	// Elapsed is the wall time from first send to resolution.
	Elapsed time.Duration

	// Err is nil on success, ErrRequestExhausted when the retry budget
	// ran out, or ErrRequestCancelled when the request was cancelled.
	Err error
}

// DeviceState is a point-in-time snapshot of everything known about a
// device. Colour and power carry raw protocol values; callers convert
// to human units at the edge.
type DeviceState struct {
	Serial       string
	Address      string
	Label        string
	Group        string
	Location     string
	Vendor       uint32
	ProductID    uint32
	ProductName  string
	Firmware     string
	Features     protocol.Features
	Availability Availability

	Power    uint16
	Color    protocol.HSBK
	Zones    []protocol.HSBK
	Infrared uint16
	WifiRSSI int

	FirstSeen   time.Time
	LastSuccess time.Time
	LastFailure time.Time

	// AvailabilitySince is when the current availability state was
	// entered.
	AvailabilitySince time.Time
}

// DeviceSummary is the compact listing form of a device.
type DeviceSummary struct {
	Serial       string
	Address      string
	Label        string
	ProductName  string
	Availability Availability
	LastSuccess  time.Time
}

// AvailabilityEvent reports one availability transition. Transitions
// are emitted exactly once per state change.
type AvailabilityEvent struct {
	Serial string
	From   Availability
	To     Availability
	At     time.Time
}

// StateEvent reports that a device's observed state changed.
type StateEvent struct {
	State DeviceState
}

// DiscoveryEvent reports a discovery observation worth acting on:
// a brand new device, a device whose address moved, or a device whose
// identity refresh just completed.
type DiscoveryEvent struct {
	State DeviceState

	// New is true the first time a serial is ever seen.
	New bool

	// AddressChanged is true when an already known device answered
	// from a different address.
	AddressChanged bool
}

// Logger is the minimal logging interface the fleet writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
