package sandbox

import "net/netip"

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // link-local, cloud metadata
	netip.MustParsePrefix("100.64.0.0/10"),  // carrier-grade NAT
	netip.MustParsePrefix("0.0.0.0/8"),
}

var privateV6 = []netip.Prefix{
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// IsPrivateIP reports whether addr belongs to a private, loopback, link-local
// or otherwise internal range. IPv4-mapped IPv6 addresses are classified by
// their embedded IPv4 address.
func IsPrivateIP(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	if addr.Is4In6() {
		return IsPrivateIP(addr.Unmap())
	}
	if addr.Is4() {
		for _, p := range privateV4 {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}
	if addr.IsLoopback() || addr.IsUnspecified() {
		return true
	}
	addr = addr.WithZone("")
	for _, p := range privateV6 {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivateHost parses host as an IP literal and classifies it. Hostnames
// that are not IP literals report false.
func IsPrivateHost(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return IsPrivateIP(addr)
}
