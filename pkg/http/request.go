package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds the proxies whose forwarding headers are trusted
type IPConfig struct {
	TrustedProxies []string // CIDR ranges or single addresses

	parsed []netip.Prefix
}

// NewIPConfig parses trusted proxies once. Invalid entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	return &IPConfig{
		TrustedProxies: trustedProxies,
		parsed:         parsePrefixes(trustedProxies),
	}
}

func (c *IPConfig) prefixes() []netip.Prefix {
	if c.parsed != nil {
		return c.parsed
	}
	return parsePrefixes(c.TrustedProxies)
}

// ExtractClientIP returns the address used to identify the caller for rate limiting
// and auditing. Forwarding headers are honoured only when the direct peer is a
// trusted proxy. X-Forwarded-For is read right to left: proxies append, so the
// first hop outside the trusted ranges is the client our edge actually saw.
// Entries to its left were written by the client and are ignored.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil {
		return remoteIP
	}
	trusted := config.prefixes()
	if !isTrustedProxy(remoteIP, trusted) {
		return remoteIP
	}

	if addr, ok := rightmostUntrusted(r.Header.Values("X-Forwarded-For"), trusted); ok {
		return addr
	}

	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr
	}

	return remoteIP
}

// rightmostUntrusted walks the forwarded chain from the nearest hop outwards.
// An unparseable hop ends the walk since nothing beyond it can be vouched for.
func rightmostUntrusted(headers []string, trusted []netip.Prefix) (string, bool) {
	var hops []string
	for _, h := range headers {
		hops = append(hops, strings.Split(h, ",")...)
	}

	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseAddr(hops[i])
		if !ok {
			return "", false
		}
		if !isTrustedProxy(addr, trusted) {
			return addr, true
		}
	}
	return "", false
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
