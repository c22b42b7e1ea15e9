package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:1234", "203.0.113.5", "203.0.113.6", nil, "198.51.100.10"},
		{"trusted peer uses forwarded for", "10.0.0.20:1234", "203.0.113.5", "", trusted, "203.0.113.5"},
		{"first untrusted hop from the right", "10.0.0.20:1234", "198.51.100.1, 203.0.113.5, 10.0.0.10", "", trusted, "203.0.113.5"},
		{"spoofed leftmost entry ignored", "192.168.1.10:80", "1.2.3.4, 203.0.113.9", "", trusted, "203.0.113.9"},
		{"x-real-ip when forwarded for unusable", "10.0.0.20:1234", "garbage", "203.0.113.7", trusted, "203.0.113.7"},
		{"empty remote", "", "203.0.113.5", "", trusted, UnknownClientIP},
		{"ipv6 peer", "[2001:db8::1]:443", "", "", nil, "2001:db8::1"},
		{"ipv4 mapped peer", "[::ffff:198.51.100.3]:80", "", "", nil, "198.51.100.3"},
		{"every hop trusted", "10.0.0.20:1234", "10.0.0.5, 10.0.0.10", "", trusted, "10.0.0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://reader.example.com/api/progress", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{" 10.0.0.0/8 ", "2001:db8::/32", "192.168.1.1", ""})
	if err != nil {
		t.Fatalf("valid entries: %v", err)
	}
	if !tp.Contains(netip.MustParseAddr("2001:db8:1::9")) || tp.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Fatalf("unexpected membership")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty input must trust nobody")
	}
}

func TestRateLimitKey(t *testing.T) {
	cases := map[string]string{
		"203.0.113.5":          "203.0.113.5",
		"2001:db8:1:2:3:4:5:6": "2001:db8:1:2::/64",
		"2001:db8:1:2::ffff":   "2001:db8:1:2::/64",
		"::ffff:198.51.100.3":  "198.51.100.3",
		UnknownClientIP:        UnknownClientIP,
	}
	for in, want := range cases {
		if got := RateLimitKey(in); got != want {
			t.Fatalf("RateLimitKey(%q) = %q, want %q", in, got, want)
		}
	}
}
