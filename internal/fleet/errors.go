package fleet

import "errors"

var (
	// ErrDeviceNotFound indicates the serial is not present in the
	// registry. Discovery has to see a device before it can be used.
	ErrDeviceNotFound = errors.New("fleet: device not found")

	// ErrBackpressure indicates the device already has the maximum
	// number of requests outstanding. The caller decides whether to
	// shed or retry later; nothing is queued on its behalf.
	ErrBackpressure = errors.New("fleet: inflight ceiling reached")

	// ErrRequestExhausted indicates every retry attempt timed out
	// without a matching response.
	ErrRequestExhausted = errors.New("fleet: retry budget exhausted")

	// ErrRequestCancelled indicates the request was resolved by
	// cancellation (caller context, device removal or shutdown) rather
	// than by the device.
	ErrRequestCancelled = errors.New("fleet: request cancelled")

	// ErrInvalidAddress indicates a device record carries no usable
	// network address.
	ErrInvalidAddress = errors.New("fleet: device has no usable address")

	// ErrSequenceExhausted indicates no free sequence number exists for
	// the device. With the inflight ceiling far below 256 this should
	// never happen in practice.
	ErrSequenceExhausted = errors.New("fleet: no free sequence number")

	// ErrNotStarted indicates the manager has not been started yet.
	ErrNotStarted = errors.New("fleet: manager not started")

	// ErrClosed indicates the manager has been shut down.
	ErrClosed = errors.New("fleet: manager closed")
)
