// Package netguard decides whether a request originated on the local network.
// Kiosk PIN login is gated on this; a wrong answer here exposes PIN auth to
// the internet, so classification works on parsed addresses, not string
// patterns.
package netguard

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"hearthhub.org/internal/obs"
)

var localPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// IsLocal reports whether the address is loopback, RFC1918 private, IPv6
// link-local or unique-local, or a 4-in-6 mapped form of any of those.
// Empty or unparseable input classifies as non-local and is logged.
func IsLocal(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		obs.Warn("empty client address treated as non-local", nil)
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		obs.Warn("unparseable client address treated as non-local", map[string]any{"addr": ip})
		return false
	}
	// ::ffff:10.1.1.1 must classify like 10.1.1.1.
	addr = addr.Unmap()
	for _, p := range localPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ResolveClientIP returns the effective client address for a request.
//
// The socket's direct peer is ground truth. Only when that peer is loopback
// (a local reverse proxy) is the first X-Forwarded-For entry trusted as the
// real client. A remote caller forging the header keeps its own peer address
// and fails the IsLocal check on its own merits.
func ResolveClientIP(r *http.Request) string {
	peer := peerAddr(r.RemoteAddr)
	if !isLoopback(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	return peer
}

func peerAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

func isLoopback(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}
