package transport

import (
	"fmt"
	"net"
)

// Endpoint describes one network interface a Socket can bind to.
type Endpoint struct {
	// Interface is the OS interface name (e.g. "eth0").
	Interface string

	// IP is the IPv4 unicast address the socket binds to.
	IP net.IP

	// Broadcast is the subnet broadcast address discovery packets are
	// sent to.
	Broadcast net.IP

	// Network is the masked subnet in CIDR form. It is the
	// deduplication key: two interfaces on the same subnet would both
	// receive the other's broadcast, so only the first is used.
	Network string
}

// EligibleEndpoints enumerates the local interfaces suitable for LIFX
// traffic: up, broadcast-capable, not loopback, carrying IPv4.
//
// If allow is non-empty only the named interfaces are considered.
// Interfaces sharing a subnet are deduplicated, first seen wins.
func EligibleEndpoints(allow []string) ([]Endpoint, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEndpoints, err)
	}

	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}

	var eps []Endpoint
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		if len(allowed) > 0 && !allowed[iface.Name] {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue // interface vanished mid-enumeration
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}

			eps = append(eps, Endpoint{
				Interface: iface.Name,
				IP:        ip,
				Broadcast: broadcastAddr(ip, ipnet.Mask),
				Network:   maskedNetwork(ip, ipnet.Mask),
			})
		}
	}

	eps = dedupeBySubnet(eps)
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}
	return eps, nil
}

// broadcastAddr computes the directed broadcast address for a subnet.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	ip = ip.To4()
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}

	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// maskedNetwork renders the subnet an address belongs to in CIDR form.
func maskedNetwork(ip net.IP, mask net.IPMask) string {
	masked := net.IPNet{IP: ip.Mask(mask), Mask: mask}
	return masked.String()
}

// dedupeBySubnet keeps the first endpoint seen on each subnet.
func dedupeBySubnet(eps []Endpoint) []Endpoint {
	seen := make(map[string]bool, len(eps))
	out := eps[:0]
	for _, ep := range eps {
		if seen[ep.Network] {
			continue
		}
		seen[ep.Network] = true
		out = append(out, ep)
	}
	return out
}
