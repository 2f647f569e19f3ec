package security

import (
	"errors"
	"net/netip"
	"testing"

	"termagent/internal/domain"
)

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"fd00::1", true},
		{"::ffff:127.0.0.1", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
		{"::ffff:8.8.8.8", false},
	}
	for _, tt := range tests {
		if got := IsPrivateAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("IsPrivateAddr(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestCheckURL(t *testing.T) {
	blocked := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"example.com",
		"http://",
		"http://127.0.0.1:8080/admin",
		"http://[::1]/",
		"https://169.254.169.254/latest/meta-data",
	}
	for _, raw := range blocked {
		if _, err := CheckURL(raw); !errors.Is(err, domain.ErrURLBlocked) {
			t.Errorf("CheckURL(%q): expected ErrURLBlocked, got %v", raw, err)
		}
	}

	u, err := CheckURL("https://go.dev/doc/")
	if err != nil {
		t.Fatalf("public URL rejected: %v", err)
	}
	if u.Host != "go.dev" {
		t.Errorf("Host = %q", u.Host)
	}
}
