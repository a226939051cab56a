// Package bridge exposes the LIFX fleet over MQTT for Gray Logic.
//
// It subscribes to command topics, translates each command into a LIFX
// protocol payload, hands it to the fleet manager for tracked delivery,
// and publishes the outcome as acknowledgment messages. In the other
// direction it listens to the fleet's state, availability and discovery
// events and mirrors them onto retained MQTT topics.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   LIFX Bridge   │   UDP
//	│      Core       │◄────────►│   (this pkg)    │◄────────► LAN devices
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
// All topics follow the flat scheme graylogic/{category}/lifx/{serial}:
//
//   - graylogic/command/lifx/{serial}: commands in (subscribed)
//   - graylogic/ack/lifx/{serial}: command acknowledgments out
//   - graylogic/state/lifx/{serial}: device state out (retained)
//   - graylogic/availability/lifx/{serial}: reachability out (retained)
//   - graylogic/discovery/lifx/{serial}: identity cards out (retained)
//   - graylogic/health/lifx: bridge health out (retained, periodic)
//
// # Acknowledgment flow
//
// UDP delivery is asynchronous, so a command gets up to two acks: an
// "accepted" ack as soon as it is admitted and the first datagram goes
// out, and a terminal "timeout" ack if the device never answers within
// the retry budget. Commands rejected before sending (unknown device,
// bad parameters, inflight ceiling) get a single "failed" ack. When a
// journal recorder is configured, every terminal outcome is also
// written to the command journal.
//
// # Commands
//
// set_power, set_color, set_color_zones, set_extended_color_zones,
// set_multizone_effect, set_matrix_effect, set_infrared, set_hev_cycle,
// identify, refresh and remove. Colour parameters use human units (hue
// in degrees, saturation and brightness in percent, kelvin absolute);
// a colour object requires brightness and defaults hue and saturation
// to zero, so {"brightness": 80, "kelvin": 2700} is a valid warm white.
// Commands that need a capability the device lacks are rejected with
// NOT_SUPPORTED.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines.
package bridge
