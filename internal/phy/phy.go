// Package phy models IPv4 addresses and local network interfaces used by the
// bridge to compute network ranges, broadcast addresses, and host ranges.
package phy

import (
	"fmt"
	"net"
	"net/netip"
)

// AnyInterface is the sentinel interface name meaning "any interface".
const AnyInterface = "*"

// Addr is an IPv4 address/port pair, stored host-order, matching the wire
// representation used throughout the bridge protocol.
type Addr struct {
	IP   uint32
	Port uint16
}

// IsZero reports whether both fields of a are zero.
func (a Addr) IsZero() bool {
	return a.IP == 0 && a.Port == 0
}

// String renders a in dotted-quad:port form.
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", IPString(a.IP), a.Port)
}

// NetipAddrPort converts a to netip.AddrPort.
func (a Addr) NetipAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(IPBytes(a.IP)), a.Port)
}

// FromNetipAddrPort builds an Addr from ap. It panics if ap is not IPv4.
func FromNetipAddrPort(ap netip.AddrPort) Addr {
	a := ap.Addr()
	if a.Is4In6() {
		a = a.Unmap()
	}
	if !a.Is4() {
		panic("phy: address is not ipv4")
	}
	return Addr{IP: IPFromBytes(a.As4()), Port: ap.Port()}
}

// IPBytes renders ip (host order) as big-endian network bytes.
func IPBytes(ip uint32) [4]byte {
	return [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
}

// IPFromBytes parses big-endian network bytes into a host-order uint32.
func IPFromBytes(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// IPString renders ip (host order) in dotted-quad form.
func IPString(ip uint32) string {
	b := IPBytes(ip)
	return net.IPv4(b[0], b[1], b[2], b[3]).String()
}

// ParseIP parses a dotted-quad IPv4 address into host order.
func ParseIP(s string) (uint32, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("parse ip %q: %w", s, err)
	}
	if a.Is4In6() {
		a = a.Unmap()
	}
	if !a.Is4() {
		return 0, fmt.Errorf("parse ip %q: not ipv4", s)
	}
	return IPFromBytes(a.As4()), nil
}

// Interface describes a local network interface, or the "any interface"
// sentinel when Name == AnyInterface (in which case IP and Netmask are zero).
type Interface struct {
	Name    string
	IP      uint32
	Netmask uint32
}

// IsAny reports whether i is the "any interface" sentinel.
func (i Interface) IsAny() bool {
	return i.Name == AnyInterface
}

// Net is the network address: ip & netmask.
func (i Interface) Net() uint32 { return i.IP & i.Netmask }

// Wildcard is the inverted netmask: ^netmask.
func (i Interface) Wildcard() uint32 { return ^i.Netmask }

// Broadcast is the network's broadcast address: ip | wildcard.
func (i Interface) Broadcast() uint32 { return i.IP | i.Wildcard() }

// HostMin is the first usable host address in the network: net | 1.
func (i Interface) HostMin() uint32 { return i.Net() | 1 }

// HostMax is the last usable host address in the network: broadcast - 1.
func (i Interface) HostMax() uint32 { return i.Broadcast() - 1 }

// Contains reports whether ip lies within i's network (inclusive of the
// network and broadcast addresses), or always true if i is the "any"
// sentinel.
func (i Interface) Contains(ip uint32) bool {
	if i.IsAny() {
		return true
	}
	return ip&i.Netmask == i.Net()
}

// IsLoopback reports whether ip is in 127.0.0.0/8.
func IsLoopback(ip uint32) bool {
	return ip>>24 == 127
}

// Lister enumerates the local machine's network interfaces. Production code
// uses SystemLister; tests substitute a fixed list.
type Lister func() ([]Interface, error)

// SystemLister enumerates real local interfaces using net.Interfaces and
// net.InterfaceAddrs, the interface-discovery contract the bridge consumes
// as an input rather than implements itself.
func SystemLister() ([]Interface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	var out []Interface
	for _, ifi := range ifs {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipn.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipn.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			if len(mask) != net.IPv4len {
				continue
			}
			var ipb, maskb [4]byte
			copy(ipb[:], ip4)
			copy(maskb[:], mask)
			out = append(out, Interface{
				Name:    ifi.Name,
				IP:      IPFromBytes(ipb),
				Netmask: IPFromBytes(maskb),
			})
		}
	}
	return out, nil
}

// Find looks up the named interface (or the "any" sentinel) among ifs.
func Find(ifs []Interface, name string) (Interface, error) {
	if name == AnyInterface {
		return Interface{Name: AnyInterface}, nil
	}
	for _, i := range ifs {
		if i.Name == name {
			return i, nil
		}
	}
	return Interface{}, fmt.Errorf("interface %q not found", name)
}
