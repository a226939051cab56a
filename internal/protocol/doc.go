// Package protocol implements the LIFX LAN wire protocol.
//
// LIFX devices speak a binary, little-endian protocol over UDP port
// 56700. Every packet starts with a fixed 36-byte header followed by a
// message-type-specific payload. Discovery uses broadcast (tagged)
// packets; everything else is unicast to a device's last known address.
//
// # Packet Layout
//
//	┌──────────────┬──────────────────┬─────────────────┬──────────┐
//	│ Frame (8B)   │ Frame Addr (16B) │ Proto Hdr (12B) │ Payload  │
//	│ size, flags, │ target serial,   │ message type    │ varies   │
//	│ source       │ sequence, flags  │                 │          │
//	└──────────────┴──────────────────┴─────────────────┴──────────┘
//
// The sequence number (one byte, wrapping) correlates responses to
// requests: a device echoes the sequence of the request it is
// answering. The source field identifies this client so traffic from
// other LIFX controllers on the same LAN can be ignored.
//
// # Message Types
//
// Typed payloads implement the Payload interface. Encoding a packet:
//
//	pkt := protocol.EncodePacket(hdr, &protocol.LightSetColor{
//	    Color:    protocol.HSBK{Hue: 21845, Saturation: 65535, Brightness: 32768, Kelvin: 3500},
//	    Duration: 500,
//	})
//
// Decoding is total over arbitrary input: malformed datagrams return
// ErrMalformedPacket (a lossy medium delivers garbage from time to
// time), never a panic.
//
// # Capabilities
//
// The product registry maps (vendor, product) identifiers from
// StateVersion to feature flags (colour, infrared, multizone, matrix,
// HEV). Unknown products fall back to a plain colour bulb profile.
//
// # References
//
//   - LIFX LAN protocol: https://lan.developer.lifx.com
package protocol
