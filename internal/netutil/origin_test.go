package netutil_test

import (
	"testing"

	"github.com/saveenergy/rtpscope/internal/netutil"
)

func TestStripHostPort(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"[::1]:8080", "::1"},
		{"[::1]", "::1"},
		{"127.0.0.1:3000", "127.0.0.1"},
	}
	for _, tc := range tests {
		if got := netutil.StripHostPort(tc.input); got != tc.want {
			t.Errorf("StripHostPort(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestOriginHost(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://example.com", "example.com"},
		{"https://example.com:8443", "example.com"},
		{"http://[::1]:8080", "::1"},
		{"example.com", "example.com"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := netutil.OriginHost(tc.input); got != tc.want {
			t.Errorf("OriginHost(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard all", []string{"*"}, "https://anything.test", true},
		{"exact", []string{"https://plots.example.com"}, "https://plots.example.com", true},
		{"subdomain wildcard", []string{"*.example.com"}, "https://foo.example.com", true},
		{"host only with port", []string{"foo.example.com"}, "https://foo.example.com:8443", true},
		{"other host", []string{"foo.example.com"}, "https://evil.test", false},
		{"suffix trick", []string{"*.example.com"}, "https://badexample.com", false},
		{"empty list", nil, "https://foo.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := netutil.MatchOrigin(tt.allowed, tt.origin); got != tt.want {
				t.Errorf("MatchOrigin(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
			}
		})
	}
}

func TestSameOrigin(t *testing.T) {
	if !netutil.SameOrigin("http://localhost:3000", "localhost:8080") {
		t.Error("expected same host to match")
	}
	if netutil.SameOrigin("http://other.test", "localhost:8080") {
		t.Error("expected different host to fail")
	}
}
