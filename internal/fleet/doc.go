// Package fleet manages a fleet of LIFX devices over the local network.
//
// It owns everything between the UDP transport and the MQTT bridge:
// which devices exist, where they are, whether they are reachable, and
// the delivery of individual requests over a protocol that drops
// packets as a matter of course.
//
// # Architecture
//
//	                 ┌─────────────────────────────────────┐
//	                 │               Manager               │
//	                 │  Discover / Send / GetState / List  │
//	                 └──────┬────────────┬────────────┬────┘
//	                        │            │            │
//	                 ┌──────▼─────┐ ┌────▼─────┐ ┌────▼─────┐
//	                 │  discovery │ │  poller  │ │  sweeper │
//	                 │  scheduler │ │          │ │          │
//	                 └──────┬─────┘ └────┬─────┘ └────┬─────┘
//	                        │            │            │
//	┌───────────┐    ┌──────▼────────────▼────┐ ┌─────▼──────────┐
//	│  inflight │◄───┤      retry engine      │ │    registry    │
//	│  tracker  │    │  (send, time out,      │ │  + availability│
//	└───────────┘    │   resend, correlate)   │ │  state machine │
//	                 └──────┬─────────▲───────┘ └────────────────┘
//	                        │         │
//	                 ┌──────▼─────────┴───────┐
//	                 │   transport sockets    │
//	                 │  (one per interface)   │
//	                 └────────────────────────┘
//
// Requests are admitted against a per-device inflight ceiling, encoded
// once, and resent verbatim with the same sequence number until a
// response arrives or the retry budget is spent. Responses are matched
// on (device address, sequence number); anything that does not match an
// outstanding request is counted and dropped.
//
// Availability is asymmetric. A device is promoted to Available on the
// first successful exchange, with no debounce. Demotion to Unavailable
// happens only after the grace period has elapsed since the last
// success and the most recent outcome was a failure, so a single lost
// command never takes a device down. A periodic sweep applies the same
// rule to devices nobody is talking to.
//
// # Thread Safety
//
// All public methods on Manager are safe for concurrent use. Devices
// are guarded individually: a slow exchange with one device never
// blocks operations on another. Callbacks are delivered from a single
// dispatch goroutine and must not block.
//
// # References
//
// LIFX LAN protocol: https://lan.developer.lifx.com/docs
package fleet
