package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Wire-level constants.
const (
	// HeaderSize is the fixed length of the LIFX LAN packet header.
	HeaderSize = 36

	// DefaultPort is the UDP port LIFX devices listen on.
	DefaultPort = 56700

	// protocolNumber identifies the LIFX LAN protocol in the frame flags.
	protocolNumber = 1024

	// serialLen is the length of a device hardware serial.
	serialLen = 6

	// targetLen is the length of the header target field (serial + 2 pad bytes).
	targetLen = 8
)

// Frame flag bit positions within the 16-bit flags word.
const (
	addressableBit = 1 << 12
	taggedBit      = 1 << 13
	protocolMask   = 0x0FFF
)

// Frame address flag bits.
const (
	resRequiredBit = 1 << 0
	ackRequiredBit = 1 << 1
)

// Serial is the 6-byte immutable hardware identifier of a LIFX device.
// It doubles as the device's MAC address (see HardwareAddress for the
// firmware quirk on newer devices).
type Serial [serialLen]byte

// ParseSerial parses a colon-separated serial string such as
// "d0:73:d5:01:02:03".
func ParseSerial(s string) (Serial, error) {
	parts := strings.Split(s, ":")
	if len(parts) != serialLen {
		return Serial{}, fmt.Errorf("%w: %q", ErrInvalidSerial, s)
	}

	var out Serial
	for i, p := range parts {
		if len(p) != 2 {
			return Serial{}, fmt.Errorf("%w: %q", ErrInvalidSerial, s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Serial{}, fmt.Errorf("%w: %q", ErrInvalidSerial, s)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// String renders the serial in lowercase colon-separated form.
func (s Serial) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", s[0], s[1], s[2], s[3], s[4], s[5])
}

// IsZero reports whether the serial is all zeros (the broadcast target).
func (s Serial) IsZero() bool {
	return s == Serial{}
}

// HardwareAddress returns the device's real MAC address as a string.
//
// Devices running firmware 3.70 or later report a serial that is one
// below their actual MAC; the last octet must be incremented (with
// wraparound) to obtain the address seen on the network.
func (s Serial) HardwareAddress(firmwareMajor, firmwareMinor uint16) string {
	if firmwareMajor > 3 || (firmwareMajor == 3 && firmwareMinor >= 70) {
		mac := s
		mac[serialLen-1]++ // wraps at 0xFF
		return mac.String()
	}
	return s.String()
}

// Header is the fixed 36-byte preamble of every LIFX LAN packet.
//
// Size and Type are filled in by EncodePacket; callers populate the
// addressing and correlation fields.
type Header struct {
	// Size is the total packet length including this header.
	Size uint16

	// Tagged marks a broadcast packet addressed to every device on the
	// network. Set on discovery (GetService); clear on unicast.
	Tagged bool

	// Source identifies this client. Devices echo it in responses so
	// traffic belonging to other controllers can be filtered out.
	// Must be nonzero.
	Source uint32

	// Target is the destination serial; zero for broadcast.
	Target Serial

	// AckRequired asks the device to send an Acknowledgement message.
	AckRequired bool

	// ResRequired asks the device to send the corresponding State message.
	ResRequired bool

	// Sequence is the wrapping per-device correlation number. Devices
	// echo it in responses; it is how a response finds its request.
	Sequence uint8

	// Type is the message type (see the message type constants).
	Type uint16
}

// encode writes the header into the first HeaderSize bytes of buf.
//
// Layout (all little-endian):
//
//	Byte 0-1:   size (total packet length)
//	Byte 2-3:   origin(2) | tagged(1) | addressable(1) | protocol(12)
//	Byte 4-7:   source
//	Byte 8-15:  target (6-byte serial + 2 zero bytes)
//	Byte 16-21: reserved
//	Byte 22:    reserved(6) | ack_required(1) | res_required(1)
//	Byte 23:    sequence
//	Byte 24-31: reserved
//	Byte 32-33: message type
//	Byte 34-35: reserved
func (h Header) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)

	flags := uint16(protocolNumber) | addressableBit
	if h.Tagged {
		flags |= taggedBit
	}
	binary.LittleEndian.PutUint16(buf[2:4], flags)

	binary.LittleEndian.PutUint32(buf[4:8], h.Source)

	copy(buf[8:8+serialLen], h.Target[:])
	// Bytes 14-21 stay zero (target padding + reserved)

	var addrFlags byte
	if h.ResRequired {
		addrFlags |= resRequiredBit
	}
	if h.AckRequired {
		addrFlags |= ackRequiredBit
	}
	buf[22] = addrFlags
	buf[23] = h.Sequence

	// Bytes 24-31 reserved
	binary.LittleEndian.PutUint16(buf[32:34], h.Type)
	// Bytes 34-35 reserved
}

// decodeHeader parses the fixed header from a received datagram.
//
// Returns ErrMalformedPacket for short data, a protocol number other
// than 1024, or a size field that disagrees with the datagram length.
func decodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: too short (%d bytes, need %d)", ErrMalformedPacket, len(data), HeaderSize)
	}

	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) != len(data) {
		return Header{}, fmt.Errorf("%w: size mismatch (declared %d, got %d)", ErrMalformedPacket, size, len(data))
	}

	flags := binary.LittleEndian.Uint16(data[2:4])
	if flags&protocolMask != protocolNumber {
		return Header{}, fmt.Errorf("%w: protocol %d", ErrMalformedPacket, flags&protocolMask)
	}

	h := Header{
		Size:        size,
		Tagged:      flags&taggedBit != 0,
		Source:      binary.LittleEndian.Uint32(data[4:8]),
		AckRequired: data[22]&ackRequiredBit != 0,
		ResRequired: data[22]&resRequiredBit != 0,
		Sequence:    data[23],
		Type:        binary.LittleEndian.Uint16(data[32:34]),
	}
	copy(h.Target[:], data[8:8+serialLen])

	return h, nil
}
