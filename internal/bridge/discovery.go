package bridge

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/octopus-mq/octopusmq/internal/phy"
)

// discoveryTargets resolves the set of addresses a fresh probe round should
// be sent to, per §4.5. Unicast resolves to a concrete address list;
// multicast and broadcast each resolve to a single group/broadcast address
// that the already-joined/enabled socket fans out at the network layer.
// Unicast candidates and the broadcast address are probed on the effective
// send port; the multicast group is probed on the listening port.
func (s *Server) discoveryTargets() ([]phy.Addr, error) {
	sendPort, err := s.cfg.EffectiveSendPort()
	if err != nil {
		return nil, err
	}
	switch s.cfg.Discovery.Mode {
	case DiscoveryUnicast:
		ips, err := s.cfg.UnicastEndpoints()
		if err != nil {
			return nil, err
		}
		out := make([]phy.Addr, 0, len(ips))
		for _, ip := range ips {
			addr := phy.Addr{IP: ip, Port: sendPort}
			if s.isSelf(addr) {
				continue
			}
			out = append(out, addr)
		}
		return out, nil
	case DiscoveryMulticast:
		return []phy.Addr{{IP: s.cfg.Discovery.Group, Port: s.cfg.Port}}, nil
	case DiscoveryBroadcast:
		return []phy.Addr{{IP: s.cfg.Interface.Broadcast(), Port: sendPort}}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown discovery mode %v", s.cfg.Discovery.Mode)
	}
}

// isSelf reports whether addr is this adapter's own listening endpoint,
// suppressing the self-loopback case that broadcast and multicast discovery
// would otherwise produce (§3 Invariants, §8 scenario 4).
func (s *Server) isSelf(addr phy.Addr) bool {
	if addr.Port != s.cfg.Port {
		return false
	}
	if addr.IP == s.cfg.Interface.IP {
		return true
	}
	if s.cfg.Interface.IsAny() && phy.IsLoopback(addr.IP) {
		return true
	}
	return false
}

// setupSocketOptions configures the raw socket for the adapter's discovery
// mode: multicast group membership/TTL via golang.org/x/net/ipv4, or
// SO_BROADCAST via golang.org/x/sys/unix for broadcast mode. Unicast needs
// neither.
func (s *Server) setupSocketOptions() error {
	switch s.cfg.Discovery.Mode {
	case DiscoveryMulticast:
		return s.joinMulticastGroup()
	case DiscoveryBroadcast:
		return s.enableBroadcast()
	default:
		return nil
	}
}

func (s *Server) joinMulticastGroup() error {
	pc := ipv4.NewPacketConn(s.conn)
	group := net.IPv4(phy.IPBytes(s.cfg.Discovery.Group)[0], phy.IPBytes(s.cfg.Discovery.Group)[1], phy.IPBytes(s.cfg.Discovery.Group)[2], phy.IPBytes(s.cfg.Discovery.Group)[3])

	var iface *net.Interface
	if !s.cfg.Interface.IsAny() {
		ifi, err := net.InterfaceByName(s.cfg.Interface.Name)
		if err != nil {
			return fmt.Errorf("bridge: resolve multicast interface %q: %w", s.cfg.Interface.Name, err)
		}
		iface = ifi
	}

	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("bridge: join multicast group %s: %w", phy.IPString(s.cfg.Discovery.Group), err)
	}
	ttl := int(s.cfg.Discovery.Hops)
	if ttl <= 0 {
		ttl = 1
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		return fmt.Errorf("bridge: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		return fmt.Errorf("bridge: disable multicast loopback: %w", err)
	}
	return nil
}

func (s *Server) enableBroadcast() error {
	sc, err := s.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("bridge: syscall conn: %w", err)
	}
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return fmt.Errorf("bridge: control socket: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("bridge: set SO_BROADCAST: %w", sockErr)
	}
	return nil
}
