//go:build linux

package firmware

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// interfaceAddress returns the first IPv4 address of iface via netlink.
func interfaceAddress(iface string) (net.IP, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	if link.Attrs().OperState != netlink.OperUp && link.Attrs().OperState != netlink.OperUnknown {
		return nil, fmt.Errorf("link is %s", link.Attrs().OperState)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		if a.IP != nil && !a.IP.IsLoopback() {
			return a.IP, nil
		}
	}
	return nil, fmt.Errorf("no ipv4 address")
}
