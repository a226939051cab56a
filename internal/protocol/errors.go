package protocol

import "errors"

// Domain errors for the protocol package.
var (
	// ErrMalformedPacket is returned when a datagram cannot be parsed:
	// short header, wrong protocol number, or truncated payload.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrUnknownMessageType is returned when a datagram carries a message
	// type this client does not implement.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrInvalidSerial is returned when a serial string cannot be parsed.
	ErrInvalidSerial = errors.New("protocol: invalid serial")
)
