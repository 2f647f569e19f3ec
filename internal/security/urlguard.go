package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"termagent/internal/domain"
)

// blockedPrefixes are loopback, private, link-local and unspecified ranges.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsPrivateAddr reports whether addr falls in a blocked range. IPv4-mapped
// IPv6 addresses are checked as IPv4.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckURL rejects non-HTTP(S) URLs and hosts given as private addresses.
// Hostnames are resolved at dial time by GuardedTransport.
func CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, domain.NewDomainError("CheckURL", domain.ErrURLBlocked, "invalid URL: "+err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, domain.NewDomainError("CheckURL", domain.ErrURLBlocked,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return nil, domain.NewDomainError("CheckURL", domain.ErrURLBlocked, "empty hostname")
	}
	if addr, err := netip.ParseAddr(host); err == nil && IsPrivateAddr(addr) {
		return nil, domain.NewDomainError("CheckURL", domain.ErrURLBlocked,
			fmt.Sprintf("address %s is private or reserved", addr))
	}
	return u, nil
}

// GuardedTransport resolves the host once per dial, rejects private
// addresses and connects to the address it validated, so a DNS answer
// cannot change between check and connect.
func GuardedTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}
			addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", host, err)
			}
			if len(addrs) == 0 {
				return nil, fmt.Errorf("resolve %s: no addresses", host)
			}
			for _, a := range addrs {
				if IsPrivateAddr(a) {
					return nil, domain.NewDomainError("GuardedTransport.Dial", domain.ErrURLBlocked,
						fmt.Sprintf("%s resolves to private address %s", host, a))
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].Unmap().String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
}
