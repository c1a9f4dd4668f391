package audit

import (
	"net/netip"
	"time"
)

// IPRetention is how long full client addresses are kept on access log entries.
const IPRetention = 90 * 24 * time.Hour

// AnonymizeIP truncates an address: IPv4 keeps the first three octets
// (192.168.1.100 -> 192.168.1.0) and IPv6 keeps the first 48 bits.
// Returns the empty string for input that is not an IP address.
func AnonymizeIP(ipStr string) string {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}

// IPAnonymizationCutoff returns the time before which addresses should be anonymized.
func IPAnonymizationCutoff(now time.Time) time.Time {
	return now.UTC().Add(-IPRetention)
}
