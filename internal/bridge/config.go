package bridge

import (
	"fmt"
	"time"

	"github.com/octopus-mq/octopusmq/internal/phy"
)

// DiscoveryMode selects how a bridge adapter finds peers (§3 Discovery
// configuration).
type DiscoveryMode int

const (
	DiscoveryUnicast DiscoveryMode = iota
	DiscoveryMulticast
	DiscoveryBroadcast
)

func (m DiscoveryMode) String() string {
	switch m {
	case DiscoveryUnicast:
		return "unicast"
	case DiscoveryMulticast:
		return "multicast"
	case DiscoveryBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// DiscoveryConfig configures how peers are found.
type DiscoveryConfig struct {
	Mode DiscoveryMode

	// Unicast: either an explicit list, or an inclusive [From, To] range.
	// Exactly one of Endpoints or (From, To) should be set; if neither is
	// set, the whole interface host range [HostMin, HostMax] is used.
	Endpoints []uint32
	From, To  uint32
	HasRange  bool

	// Multicast.
	Group uint32
	Hops  uint8

	// SendPort is the destination port of discovery probes sent to unicast
	// candidates and to the broadcast address; 0 means "use the listening
	// port". Outgoing Probe bodies always carry the listening port.
	SendPort uint16
}

// Timeouts holds the bridge's configurable timers, in the defaults of §3.
type Timeouts struct {
	Delay       time.Duration
	Discovery   time.Duration
	Acknowledge time.Duration
	Heartbeat   time.Duration
	Rescan      time.Duration
}

// DefaultTimeouts returns the §3 default timeout values.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Delay:       100 * time.Millisecond,
		Discovery:   10 * time.Second,
		Acknowledge: 1 * time.Second,
		Heartbeat:   60 * time.Second,
		Rescan:      60 * time.Second,
	}
}

// MaxDatagramSize bounds a single outgoing packet. It is conservative enough
// to avoid IP fragmentation on a typical LAN path (Ethernet MTU 1500, minus
// IP/UDP headers, rounded down); subscribe/unsubscribe/publish payloads that
// would exceed it are split into multiple MTU-bounded blocks (§3, §4.2). A
// single published message or topic name that is larger than the bound on
// its own is sent alone in one block, which then exceeds it.
const MaxDatagramSize = 1400

// Config is one bridge adapter's fully-resolved configuration.
type Config struct {
	Name      string
	Interface phy.Interface
	Port      uint16
	Discovery DiscoveryConfig
	Timeouts  Timeouts
}

// ListenAddr is the (ip, port) the adapter binds its UDP socket to.
func (c Config) ListenAddr() phy.Addr {
	return phy.Addr{IP: c.Interface.IP, Port: c.Port}
}

// EffectiveSendPort resolves Discovery.SendPort, defaulting to the listening
// port, and validates the loopback-recursion rule from §3/§8 scenario 6: on
// loopback, an unset send_port that would equal the listening port creates a
// recursive configuration and must be rejected at load time.
func (c Config) EffectiveSendPort() (uint16, error) {
	sp := c.Discovery.SendPort
	if sp == 0 {
		sp = c.Port
	}
	if phy.IsLoopback(c.Interface.IP) && c.Discovery.SendPort == 0 {
		return 0, fmt.Errorf("bridge: recursive loopback configuration: send_port defaults to the listening port %d on loopback", c.Port)
	}
	return sp, nil
}

// UnicastEndpoints resolves the configured unicast candidate addresses,
// enforcing that every one lies within the interface's network (§3).
func (c Config) UnicastEndpoints() ([]uint32, error) {
	d := c.Discovery
	var eps []uint32
	switch {
	case len(d.Endpoints) > 0:
		eps = d.Endpoints
	case d.HasRange:
		if d.From > d.To {
			return nil, fmt.Errorf("bridge: unicast range from=%s is after to=%s", phy.IPString(d.From), phy.IPString(d.To))
		}
		for ip := d.From; ip <= d.To; ip++ {
			eps = append(eps, ip)
			if ip == ^uint32(0) {
				break // avoid overflow wraparound
			}
		}
	default:
		for ip := c.Interface.HostMin(); ip <= c.Interface.HostMax(); ip++ {
			eps = append(eps, ip)
		}
	}
	for _, ip := range eps {
		if !c.Interface.Contains(ip) {
			return nil, fmt.Errorf("bridge: unicast endpoint %s is outside interface %q's network", phy.IPString(ip), c.Interface.Name)
		}
	}
	return eps, nil
}
