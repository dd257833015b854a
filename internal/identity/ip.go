package identity

import (
	"net"
	"strings"
)

// NormalizeIP collapses IPv6 forms of IPv4 addresses to canonical dotted
// quads: "::ffff:10.0.0.5" → "10.0.0.5", "::1" → "127.0.0.1". Anything that
// does not parse is returned unchanged (sentinels like "auto-system" pass
// through).
func NormalizeIP(ip string) string {
	s := strings.TrimSpace(ip)
	if s == "" {
		return s
	}
	if s == "::1" {
		return "127.0.0.1"
	}
	parsed := net.ParseIP(strings.TrimPrefix(s, "::ffff:"))
	if parsed == nil {
		return s
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}
