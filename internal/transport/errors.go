package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrClosed is returned when sending on a closed socket.
	ErrClosed = errors.New("transport: socket closed")

	// ErrNoEndpoints is returned when no eligible network interface
	// could be found.
	ErrNoEndpoints = errors.New("transport: no eligible interfaces")

	// ErrOpenFailed is returned when binding the UDP socket fails.
	ErrOpenFailed = errors.New("transport: open failed")
)
