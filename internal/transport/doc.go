// Package transport owns the UDP sockets used to talk to LIFX devices.
//
// One Socket is opened per eligible local network interface. Discovery
// broadcasts go out of every socket to that interface's subnet
// broadcast address; devices reply unicast to the socket they heard,
// so responses arrive on the interface that can reach the device.
//
// # Interface Selection
//
// EligibleEndpoints enumerates interfaces that are up, broadcast
// capable, not loopback and carry an IPv4 address. Interfaces sharing
// a subnet are deduplicated (first seen wins) so one discovery cycle
// produces exactly one broadcast per network, not one per interface.
//
//	┌──────────┐ broadcast  ┌───────────────┐
//	│ Socket   │───────────►│ 192.168.1.255 │──► devices
//	│ (eth0)   │◄───────────│               │
//	└──────────┘  unicast   └───────────────┘
//
// # Delivery
//
// Received datagrams are handed to the OnDatagram callback on the read
// goroutine. The callback must be quick; anything slow belongs on the
// far side of a channel.
//
// Sends are best-effort: a send error means local resource exhaustion
// or an unroutable address, never "the device did not hear it". Retry
// policy lives with the caller.
package transport
