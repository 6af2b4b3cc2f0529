package util

import (
	"fmt"
	"net/netip"
)

// privateBlocks are the RFC 1918 ranges an access point subnet must lie in.
var privateBlocks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// privateBlock returns the RFC 1918 block that wholly contains p.
func privateBlock(p netip.Prefix) (netip.Prefix, bool) {
	for _, b := range privateBlocks {
		if p.Bits() >= b.Bits() && b.Contains(p.Addr()) {
			return b, true
		}
	}
	return netip.Prefix{}, false
}

// ParseSubnet parses a private IPv4 CIDR usable as a hotspot subnet (/16 to
// /29). The prefix is returned masked to its network address.
func ParseSubnet(cidr string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("subnet %s is not IPv4", cidr)
	}
	if p.Bits() < 16 || p.Bits() > 29 {
		return netip.Prefix{}, fmt.Errorf("subnet %s: prefix length must be between 16 and 29", cidr)
	}
	if _, ok := privateBlock(p); !ok {
		return netip.Prefix{}, fmt.Errorf("subnet %s is not in a private range (10/8, 172.16/12, 192.168/16)", cidr)
	}
	return p.Masked(), nil
}

// HostAt returns the address offset hosts into the subnet (offset 1 is the
// first usable address). The network and broadcast addresses are refused.
func HostAt(subnet netip.Prefix, offset int) (netip.Addr, error) {
	size := 1 << (32 - subnet.Bits())
	if offset < 1 || offset >= size-1 {
		return netip.Addr{}, fmt.Errorf("host offset %d outside %s", offset, subnet)
	}
	return fromUint32(toUint32(subnet.Masked().Addr()) + uint32(offset)), nil
}

// GatewayAddr returns the first usable address of the subnet.
func GatewayAddr(subnet netip.Prefix) netip.Addr {
	gw, err := HostAt(subnet, 1)
	if err != nil {
		return netip.Addr{}
	}
	return gw
}

// NetmaskString renders the subnet mask in dotted-quad form.
func NetmaskString(subnet netip.Prefix) string {
	bits := subnet.Bits()
	m := ^uint32(0) << (32 - bits)
	return fmt.Sprintf("%d.%d.%d.%d", byte(m>>24), byte(m>>16), byte(m>>8), byte(m))
}

// PickSubnet returns preferred unless it overlaps one of avoid; otherwise it
// walks the following subnets of the same size, wrapping within the private
// block that holds preferred, and returns the first one free of avoid.
func PickSubnet(preferred netip.Prefix, avoid ...netip.Prefix) (netip.Prefix, error) {
	preferred = preferred.Masked()
	block, ok := privateBlock(preferred)
	if !ok || !preferred.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("subnet %s is not in a private range", preferred)
	}
	if !overlapsAny(preferred, avoid) {
		return preferred, nil
	}

	base := toUint32(block.Addr())
	size := uint32(1) << (32 - preferred.Bits())
	count := uint32(1) << (preferred.Bits() - block.Bits())
	first := (toUint32(preferred.Addr()) - base) / size
	for i := uint32(1); i < count; i++ {
		n := base + ((first+i)%count)*size
		cand := netip.PrefixFrom(fromUint32(n), preferred.Bits())
		if !overlapsAny(cand, avoid) {
			return cand, nil
		}
	}
	return netip.Prefix{}, fmt.Errorf("no free subnet in %s", block)
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func fromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func overlapsAny(p netip.Prefix, avoid []netip.Prefix) bool {
	for _, a := range avoid {
		if a.IsValid() && p.Overlaps(a) {
			return true
		}
	}
	return false
}

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(ipStr string) bool {
	a, err := netip.ParseAddr(ipStr)
	return err == nil && a.Is4()
}
