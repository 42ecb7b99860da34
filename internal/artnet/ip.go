package artnet

import (
	"fmt"
	"net"
)

// FindArtNetIP finds the matching interface with an IPv4 address inside addressRange (CIDR).
// It returns a nil IP when no interface matches.
func FindArtNetIP(addressRange string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(addressRange)
	if err != nil {
		return nil, fmt.Errorf("address range %q: %w", addressRange, err)
	}
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	return matchIP(address, cidrNet), nil
}

func matchIP(address []net.Addr, cidrNet *net.IPNet) net.IP {
	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}

		if cidrNet.Contains(ipNet.IP) {
			return ipNet.IP
		}
	}

	return nil
}
