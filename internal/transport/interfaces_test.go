package transport

import (
	"net"
	"testing"
)

func TestBroadcastAddr(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		mask net.IPMask
		want string
	}{
		{
			name: "slash 24",
			ip:   "192.168.1.10",
			mask: net.CIDRMask(24, 32),
			want: "192.168.1.255",
		},
		{
			name: "slash 16",
			ip:   "10.1.2.3",
			mask: net.CIDRMask(16, 32),
			want: "10.1.255.255",
		},
		{
			name: "slash 25 splits the last octet",
			ip:   "192.168.1.130",
			mask: net.CIDRMask(25, 32),
			want: "192.168.1.255",
		},
		{
			name: "slash 30 point to point",
			ip:   "172.16.0.1",
			mask: net.CIDRMask(30, 32),
			want: "172.16.0.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := broadcastAddr(net.ParseIP(tt.ip), tt.mask)
			if got.String() != tt.want {
				t.Errorf("broadcastAddr(%s, %v) = %s, want %s", tt.ip, tt.mask, got, tt.want)
			}
		})
	}
}

func TestMaskedNetwork(t *testing.T) {
	got := maskedNetwork(net.ParseIP("192.168.1.10").To4(), net.CIDRMask(24, 32))
	if got != "192.168.1.0/24" {
		t.Errorf("maskedNetwork = %q, want %q", got, "192.168.1.0/24")
	}
}

func TestDedupeBySubnet(t *testing.T) {
	tests := []struct {
		name string
		eps  []Endpoint
		want []string // surviving interface names, in order
	}{
		{
			name: "distinct subnets all survive",
			eps: []Endpoint{
				{Interface: "eth0", Network: "192.168.1.0/24"},
				{Interface: "eth1", Network: "10.0.0.0/24"},
			},
			want: []string{"eth0", "eth1"},
		},
		{
			name: "same subnet keeps first seen",
			eps: []Endpoint{
				{Interface: "eth0", Network: "192.168.1.0/24"},
				{Interface: "wlan0", Network: "192.168.1.0/24"},
			},
			want: []string{"eth0"},
		},
		{
			name: "mixed",
			eps: []Endpoint{
				{Interface: "eth0", Network: "192.168.1.0/24"},
				{Interface: "wlan0", Network: "192.168.1.0/24"},
				{Interface: "eth1", Network: "10.0.0.0/8"},
				{Interface: "wlan1", Network: "10.0.0.0/8"},
			},
			want: []string{"eth0", "eth1"},
		},
		{
			name: "empty",
			eps:  nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupeBySubnet(tt.eps)
			if len(got) != len(tt.want) {
				t.Fatalf("kept %d endpoints, want %d", len(got), len(tt.want))
			}
			for i, ep := range got {
				if ep.Interface != tt.want[i] {
					t.Errorf("endpoint[%d] = %s, want %s", i, ep.Interface, tt.want[i])
				}
			}
		})
	}
}
