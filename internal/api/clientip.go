package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/saveenergy/rtpscope/internal/config"
)

// ClientIPResolver picks the client address used for rate limiting and
// request logs. Proxy headers are honoured only from trusted networks.
type ClientIPResolver struct {
	trustProxyHeaders bool
	trustedPrefixes   []netip.Prefix
}

func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	if cfg == nil {
		return &ClientIPResolver{}
	}
	return &ClientIPResolver{
		trustProxyHeaders: cfg.TrustProxyHeaders,
		trustedPrefixes:   parsePrefixes(cfg.TrustedProxyCIDRs),
	}
}

func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	remote, ok := parseRemoteAddr(req.RemoteAddr)
	if !ok || !r.trustProxyHeaders || !r.trusted(remote) {
		return addrString(remote, ok)
	}

	// Walk X-Forwarded-For from the right; the first untrusted hop is the
	// client. Left-most entries are attacker controlled.
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(hops[i])
			if !ok || r.trusted(hop) {
				continue
			}
			return hop.String()
		}
	}
	if realIP, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	return remote.String()
}

func (r *ClientIPResolver) trusted(addr netip.Addr) bool {
	for _, p := range r.trustedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, entry := range cidrs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(entry)); err == nil {
			out = append(out, p.Masked())
		}
	}
	return out
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	return parseAddr(remoteAddr)
}

// parseAddr accepts a bare address, a bracketed IPv6 address, or host:port.
func parseAddr(value string) (netip.Addr, bool) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return netip.Addr{}, false
	}
	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(clean); err == nil {
		return addr.Unmap(), true
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(value)); err == nil {
		if addr, err := netip.ParseAddr(host); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

func addrString(addr netip.Addr, ok bool) string {
	if !ok {
		return "unknown"
	}
	return addr.String()
}
