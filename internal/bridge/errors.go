package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrFleetRequired is returned by New when no fleet manager is
	// supplied.
	ErrFleetRequired = errors.New("bridge: fleet manager is required")

	// ErrMQTTRequired is returned by New when no MQTT client is
	// supplied.
	ErrMQTTRequired = errors.New("bridge: mqtt client is required")
)
