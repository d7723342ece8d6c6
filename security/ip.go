package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies describes the reverse proxies in front of the server. Forwarding headers
// are only honored when Enabled is set; Count is the number of proxies appending to
// X-Forwarded-For (zero means one).
type TrustedProxies struct {
	Enabled bool
	Count   int
}

// ClientIP returns the address audit events and logs attribute the request to.
//
// X-Forwarded-For is read as "client, proxyN, ..., proxy1": the entry Count positions
// from the right is the last address a trusted proxy saw. When too few entries are
// present the leftmost one is used. X-Real-IP is the fallback, then RemoteAddr.
func ClientIP(r *http.Request, proxies TrustedProxies) string {
	if proxies.Enabled {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For"), proxies.hops()); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (p TrustedProxies) hops() int {
	if p.Count <= 0 {
		return 1
	}
	return p.Count
}

func forwardedFor(header string, hops int) string {
	if header == "" {
		return ""
	}

	entries := strings.Split(header, ",")
	i := max(len(entries)-hops-1, 0)
	return parseIP(entries[i])
}

// parseIP returns the canonical form of s, or "" when s is not an IP address
func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
