// Package privacy masks client-identifying values before they reach logs.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP truncates an address so it no longer identifies one host:
// IPv4 keeps the /24 network, IPv6 the /48 prefix. Unparseable input maps
// to "invalid" and empty input to "unknown", so the result is always safe
// to log.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1], parsed[2], parsed[3], parsed[4], parsed[5])
}
