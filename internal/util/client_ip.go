package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownClientIP is returned when no caller address can be resolved.
// Callers still rate-limit it, just as one shared bucket.
const UnknownClientIP = "unknown"

// ipv6BucketBits groups IPv6 callers by their /64, the smallest block a
// single subscriber is usually handed.
const ipv6BucketBits = 64

// TrustedProxies is the set of peers whose forwarding headers are believed.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. Empty input returns nil,
// which trusts nobody.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Contains reports whether addr falls inside a trusted range.
func (t *TrustedProxies) Contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address. X-Forwarded-For is walked from the
// right and the first hop outside the trusted set wins; forwarding headers
// are ignored entirely unless the direct peer is trusted.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	if r == nil {
		return UnknownClientIP
	}
	peer, ok := parseHostAddr(r.RemoteAddr)
	if !ok {
		if raw := strings.TrimSpace(r.RemoteAddr); raw != "" {
			return raw
		}
		return UnknownClientIP
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	if hops := forwardedHops(r.Header.Get("X-Forwarded-For")); len(hops) > 0 {
		hops = append(hops, peer)
		for i := len(hops) - 1; i >= 0; i-- {
			if !trusted.Contains(hops[i]) {
				return hops[i].String()
			}
		}
		return hops[0].String()
	}
	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer.String()
}

// RateLimitKey maps a client address to its limiter bucket: IPv4 addresses
// as-is, IPv6 addresses by /64 prefix. Unparseable input is returned as is.
func RateLimitKey(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return addr.String()
	}
	prefix, err := addr.Prefix(ipv6BucketBits)
	if err != nil {
		return addr.String()
	}
	return prefix.String()
}

func forwardedHops(raw string) []netip.Addr {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	hops := make([]netip.Addr, 0, len(parts))
	for _, part := range parts {
		addr, err := netip.ParseAddr(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		hops = append(hops, addr.Unmap())
	}
	return hops
}

func parseHostAddr(hostport string) (netip.Addr, bool) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(hostport)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
