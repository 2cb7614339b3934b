package blockdev

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// accessList decides which peers may connect.
//
// Patterns are IP addresses or CIDR ranges. Denied patterns take precedence
// over allowed ones; an empty allowed list admits everybody not denied.
// Peers without an IP address (Unix domain sockets) are admitted only when
// no allowed list is configured.
type accessList struct {
	allowed []netip.Prefix
	denied  []netip.Prefix
}

func newAccessList(allowed, denied []string) (*accessList, error) {
	a := &accessList{}
	var err error
	if a.allowed, err = parsePatterns(allowed); err != nil {
		return nil, fmt.Errorf("allowed_clients: %w", err)
	}
	if a.denied, err = parsePatterns(denied); err != nil {
		return nil, fmt.Errorf("denied_clients: %w", err)
	}
	return a, nil
}

// parsePatterns turns IPs and CIDR ranges into prefixes. A bare IP is a
// single-address prefix. IPv4-mapped IPv6 patterns are stored as IPv4, the
// form peers are compared in.
func parsePatterns(patterns []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, err
			}
			if addr := prefix.Addr(); addr.Is4In6() && prefix.Bits() >= 96 {
				prefix = netip.PrefixFrom(addr.Unmap(), prefix.Bits()-96)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

func (a *accessList) empty() bool {
	return len(a.allowed) == 0 && len(a.denied) == 0
}

// check returns nil if peer may connect, or an error saying why not.
func (a *accessList) check(peer net.Addr) error {
	addr, ok := peerIP(peer)
	if !ok {
		if len(a.allowed) > 0 {
			return fmt.Errorf("client %v has no IP address and allowed_clients is set", peer)
		}
		return nil
	}

	for _, p := range a.denied {
		if p.Contains(addr) {
			return fmt.Errorf("client %s is explicitly denied", addr)
		}
	}

	if len(a.allowed) == 0 {
		return nil
	}
	for _, p := range a.allowed {
		if p.Contains(addr) {
			return nil
		}
	}
	return fmt.Errorf("client %s is not in allowed_clients", addr)
}

// peerIP extracts the IP of a TCP peer. IPv4-mapped IPv6 addresses are
// unmapped so they match IPv4 patterns.
func peerIP(peer net.Addr) (netip.Addr, bool) {
	tcp, ok := peer.(*net.TCPAddr)
	if !ok || tcp == nil {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(tcp.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
