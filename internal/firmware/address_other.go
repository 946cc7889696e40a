//go:build !linux

package firmware

import (
	"fmt"
	"net"
)

// interfaceAddress returns the first IPv4 address of iface. Netlink is
// Linux-only, so other platforms use the net package.
func interfaceAddress(iface string) (net.IP, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("find interface: %w", err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil && !n.IP.IsLoopback() {
			return n.IP, nil
		}
	}
	return nil, fmt.Errorf("no ipv4 address")
}
