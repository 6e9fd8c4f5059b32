package netutil

import (
	"net"
	"net/url"
	"strings"
)

func StripHostPort(host string) string {
	if host == "" {
		return host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	}
	return host
}

// OriginHost returns the bare host of an Origin header value or of a
// host-only allow-list entry.
func OriginHost(origin string) string {
	parsed, err := url.Parse(origin)
	if err == nil && parsed.Host != "" {
		return StripHostPort(parsed.Host)
	}
	return StripHostPort(origin)
}

// MatchOrigin reports whether origin is permitted by the allow-list. Entries
// may be "*", a full origin, a bare host, or a "*.example.com" wildcard.
func MatchOrigin(allowed []string, origin string) bool {
	originHostValue := OriginHost(origin)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if strings.EqualFold(entry, origin) {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			suffix := strings.TrimPrefix(entry, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := OriginHost(entry)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func AllowsAll(allowed []string) bool {
	for _, entry := range allowed {
		if strings.TrimSpace(entry) == "*" {
			return true
		}
	}
	return false
}

// SameOrigin compares the host of origin with the request Host header.
func SameOrigin(origin, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(StripHostPort(parsed.Host), StripHostPort(host))
}
