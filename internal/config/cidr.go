package config

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// SpokeSubnetCount is the number of equal sub-blocks a spoke block is split into.
const SpokeSubnetCount = 4

// CIDRSubnet calculates a subnet address given a network prefix, a netmask size
// increase, and a zero-based subnet number, like Terraform's cidrsubnet.
// Only IPv4 prefixes are supported.
func CIDRSubnet(prefix string, newbits int, netnum int) (string, error) {
	network, err := parseIPv4Prefix(prefix)
	if err != nil {
		return "", err
	}

	newBitsTotal := network.Bits() + newbits
	if newbits < 0 || newBitsTotal > 32 {
		return "", fmt.Errorf("prefix extension of %d bits is too large for %s", newbits, prefix)
	}
	if netnum < 0 || netnum >= 1<<newbits {
		return "", fmt.Errorf("subnet number %d exceeds max subnets %d", netnum, 1<<newbits)
	}

	base := addrToUint(network.Addr())
	offset := uint32(netnum) << (32 - newBitsTotal)
	return netip.PrefixFrom(uintToAddr(base+offset), newBitsTotal).String(), nil
}

// CIDRHost calculates a full host address within prefix, like Terraform's
// cidrhost. Negative host numbers count back from the end of the range.
func CIDRHost(prefix string, hostnum int) (string, error) {
	network, err := parseIPv4Prefix(prefix)
	if err != nil {
		return "", err
	}

	size := uint64(1) << (32 - network.Bits())
	var offset uint64
	if hostnum < 0 {
		if uint64(-hostnum) > size {
			return "", fmt.Errorf("host number %d exceeds max hosts %d", hostnum, size)
		}
		offset = size - uint64(-hostnum)
	} else {
		if uint64(hostnum) >= size {
			return "", fmt.Errorf("host number %d exceeds max hosts %d", hostnum, size)
		}
		offset = uint64(hostnum)
	}

	// #nosec G115
	return uintToAddr(addrToUint(network.Addr()) + uint32(offset)).String(), nil
}

// SpokeBlock returns the /24 block for a spoke id inside the spoke supernet.
// With the default 10.11.0.0/16 supernet, spoke 1 gets 10.11.1.0/24.
func SpokeBlock(supernet string, spokeID int) (string, error) {
	network, err := parseIPv4Prefix(supernet)
	if err != nil {
		return "", err
	}
	if network.Bits() > 24 {
		return "", fmt.Errorf("spoke supernet %s must be /24 or larger", supernet)
	}
	return CIDRSubnet(supernet, 24-network.Bits(), spokeID)
}

// SpokeSubnets splits a spoke block into its four equal sub-blocks in
// compute, data, secrets, shared-service order.
func SpokeSubnets(block string) ([]string, error) {
	subnets := make([]string, 0, SpokeSubnetCount)
	for i := 0; i < SpokeSubnetCount; i++ {
		subnet, err := CIDRSubnet(block, 2, i)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", block, err)
		}
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// Overlaps reports whether two prefixes share any address.
func Overlaps(a, b string) (bool, error) {
	pa, err := parseIPv4Prefix(a)
	if err != nil {
		return false, err
	}
	pb, err := parseIPv4Prefix(b)
	if err != nil {
		return false, err
	}
	return pa.Overlaps(pb), nil
}

// ContainsAddr reports whether ip lies inside prefix.
func ContainsAddr(prefix, ip string) (bool, error) {
	network, err := parseIPv4Prefix(prefix)
	if err != nil {
		return false, err
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, fmt.Errorf("invalid IP address %q: %w", ip, err)
	}
	return network.Contains(addr), nil
}

func parseIPv4Prefix(prefix string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR prefix: %w", err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 addresses are supported, got %s", prefix)
	}
	return p.Masked(), nil
}

func addrToUint(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uintToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
