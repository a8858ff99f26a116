package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/peer"
	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

func testInterface(ip uint32) phy.Interface {
	return phy.Interface{Name: "lo0", IP: ip, Netmask: 0xffffff00} // /24
}

func testTimeouts() Timeouts {
	return Timeouts{
		Delay:       10 * time.Millisecond,
		Discovery:   100 * time.Millisecond,
		Acknowledge: 80 * time.Millisecond,
		Heartbeat:   500 * time.Millisecond,
		Rescan:      200 * time.Millisecond,
	}
}

func loopbackIP(lastOctet byte) uint32 {
	return 0x7f000000 | uint32(lastOctet)
}

func startServer(t *testing.T, cfg Config) (*Server, func()) {
	t.Helper()
	s := NewServer(cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			t.Logf("server %s exited: %v", cfg.Name, err)
		}
	}()
	// give the socket a moment to bind before the caller sends to it
	time.Sleep(20 * time.Millisecond)
	return s, func() {
		cancel()
		s.Stop()
		<-done
	}
}

func waitForState(t *testing.T, s *Server, addr phy.Addr, want peer.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if states := s.PeerStates(); states[addr] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("peer %s never reached state %v, got %v", addr, want, s.PeerStates()[addr])
}

// TestDiscoveryHandshake covers §8 scenario 1: two unicast-configured
// adapters probe each other and both converge on discovered.
func TestDiscoveryHandshake(t *testing.T) {
	ifaceA := testInterface(loopbackIP(1))
	ifaceB := testInterface(loopbackIP(2))

	cfgA := Config{
		Name: "a", Interface: ifaceA, Port: 17001,
		Discovery: DiscoveryConfig{Mode: DiscoveryUnicast, Endpoints: []uint32{loopbackIP(2)}, SendPort: 17002},
		Timeouts:  testTimeouts(),
	}
	cfgB := Config{
		Name: "b", Interface: ifaceB, Port: 17002,
		Discovery: DiscoveryConfig{Mode: DiscoveryUnicast, Endpoints: []uint32{loopbackIP(1)}, SendPort: 17001},
		Timeouts:  testTimeouts(),
	}

	a, stopA := startServer(t, cfgA)
	defer stopA()
	b, stopB := startServer(t, cfgB)
	defer stopB()

	a.submit(func(s *Server) { s.rescan() })
	b.submit(func(s *Server) { s.rescan() })

	waitForState(t, a, phy.Addr{IP: loopbackIP(2), Port: cfgB.Port}, peer.Discovered, 2*time.Second)
	waitForState(t, b, phy.Addr{IP: loopbackIP(1), Port: cfgA.Port}, peer.Discovered, 2*time.Second)
}

// TestPublishFanOut covers §8 scenario 5: a publish injected into one
// adapter is delivered to the other over the wire.
func TestPublishFanOut(t *testing.T) {
	ifaceA := testInterface(loopbackIP(3))
	ifaceB := testInterface(loopbackIP(4))

	cfgA := Config{
		Name: "a", Interface: ifaceA, Port: 17011,
		Discovery: DiscoveryConfig{Mode: DiscoveryUnicast, Endpoints: []uint32{loopbackIP(4)}, SendPort: 17012},
		Timeouts:  testTimeouts(),
	}
	cfgB := Config{
		Name: "b", Interface: ifaceB, Port: 17012,
		Discovery: DiscoveryConfig{Mode: DiscoveryUnicast, Endpoints: []uint32{loopbackIP(3)}, SendPort: 17011},
		Timeouts:  testTimeouts(),
	}

	a, stopA := startServer(t, cfgA)
	defer stopA()
	b, stopB := startServer(t, cfgB)
	defer stopB()

	a.submit(func(s *Server) { s.rescan() })
	b.submit(func(s *Server) { s.rescan() })

	waitForState(t, a, phy.Addr{IP: loopbackIP(4), Port: cfgB.Port}, peer.Discovered, 2*time.Second)
	waitForState(t, b, phy.Addr{IP: loopbackIP(3), Port: cfgA.Port}, peer.Discovered, 2*time.Second)

	gotTopic := make(chan string, 1)
	b.SetOnPublish(func(_ phy.Addr, m wire.PublishedMessage) { gotTopic <- m.Topic })
	time.Sleep(20 * time.Millisecond)

	a.Publish(PublishedMessage{Topic: "t", Payload: []byte("hello")})

	select {
	case topic := <-gotTopic:
		if topic != "t" {
			t.Fatalf("got topic %q, want %q", topic, "t")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish never arrived at peer")
	}
}

// newTestServerWithSocket builds a Server with a bound, unjoined UDP socket
// but never runs its reactor loop, so tests can call unexported methods
// (rescan, handleDatagram) directly and inspect s.peers synchronously instead
// of round-tripping through cmdCh.
func newTestServerWithSocket(t *testing.T, cfg Config) *Server {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	s := NewServer(cfg, zerolog.Nop())
	s.conn = conn
	return s
}

// TestBroadcastEmitsInitialProbe covers §8 scenario 4's emission half: rescan
// resolves the broadcast address as a discovery target and probes it.
func TestBroadcastEmitsInitialProbe(t *testing.T) {
	cfg := Config{
		Name:      "node",
		Interface: testInterface(loopbackIP(6)),
		Port:      17041,
		Discovery: DiscoveryConfig{Mode: DiscoveryBroadcast, SendPort: 17041},
		Timeouts:  testTimeouts(),
	}
	s := newTestServerWithSocket(t, cfg)

	s.rescan()

	broadcastAddr := phy.Addr{IP: cfg.Interface.Broadcast(), Port: cfg.Port}
	conn, ok := s.peers[broadcastAddr]
	if !ok {
		t.Fatal("rescan did not create a connection record for the broadcast address")
	}
	if conn.State != peer.DiscoveryRequested {
		t.Fatalf("got state %v, want discovery_requested", conn.State)
	}
}

// TestMulticastEmitsInitialProbe is the multicast counterpart of
// TestBroadcastEmitsInitialProbe.
func TestMulticastEmitsInitialProbe(t *testing.T) {
	cfg := Config{
		Name:      "node",
		Interface: testInterface(loopbackIP(7)),
		Port:      17051,
		Discovery: DiscoveryConfig{Mode: DiscoveryMulticast, Group: 0xe0000001, Hops: 1, SendPort: 17051},
		Timeouts:  testTimeouts(),
	}
	s := newTestServerWithSocket(t, cfg)

	s.rescan()

	groupAddr := phy.Addr{IP: cfg.Discovery.Group, Port: cfg.Port}
	conn, ok := s.peers[groupAddr]
	if !ok {
		t.Fatal("rescan did not create a connection record for the multicast group")
	}
	if conn.State != peer.DiscoveryRequested {
		t.Fatalf("got state %v, want discovery_requested", conn.State)
	}
}

// TestBroadcastSelfSuppression covers §8 scenario 4's self-suppression half:
// a node must drop its own broadcast probe reflected back to it, without any
// state change.
func TestBroadcastSelfSuppression(t *testing.T) {
	cfg := Config{
		Name:      "node",
		Interface: testInterface(loopbackIP(5)),
		Port:      17031,
		Discovery: DiscoveryConfig{Mode: DiscoveryBroadcast, SendPort: 17031},
		Timeouts:  testTimeouts(),
	}
	s := newTestServerWithSocket(t, cfg)

	self := phy.Addr{IP: loopbackIP(5), Port: 17031}
	probe := wire.NewProbe(1, loopbackIP(5), 17031)
	s.handleDatagram(recvDatagram{addr: self, data: probe.Payload()})

	if _, known := s.peers[self]; known {
		t.Fatal("receiving our own broadcast probe must not create a peer record")
	}
}

// TestTransitiveDiscoveryViaHeartbeat covers the regression where
// getOrCreateConn pre-advanced a freshly learned peer past undiscovered,
// silently skipping handleHeartbeat's sendProbe call for non-unicast modes.
func TestTransitiveDiscoveryViaHeartbeat(t *testing.T) {
	cfg := Config{
		Name:      "node",
		Interface: testInterface(loopbackIP(8)),
		Port:      17061,
		Discovery: DiscoveryConfig{Mode: DiscoveryBroadcast, SendPort: 17061},
		Timeouts:  testTimeouts(),
	}
	s := newTestServerWithSocket(t, cfg)

	learned := phy.Addr{IP: loopbackIP(9), Port: 17062}
	from := phy.Addr{IP: loopbackIP(10), Port: 17063}
	fromConn := s.getOrCreateConn(from)
	fromConn.OnRecvProbe() // from is already discovered, so its heartbeat is accepted

	hb := wire.NewHeartbeat(1, 60000, []wire.PeerEndpoint{{IP: learned.IP, Port: learned.Port}})
	s.handleDatagram(recvDatagram{addr: from, data: hb.Payload()})

	conn, ok := s.peers[learned]
	if !ok {
		t.Fatal("heartbeat-learned peer was never recorded")
	}
	if conn.State != peer.DiscoveryRequested {
		t.Fatalf("got state %v, want discovery_requested (sendProbe must fire for transitively learned peers)", conn.State)
	}
}

// TestLoopbackRecursionRejected covers §8 scenario 6.
func TestLoopbackRecursionRejected(t *testing.T) {
	cfg := Config{
		Name:      "lo",
		Interface: testInterface(loopbackIP(1)),
		Port:      17021,
		Discovery: DiscoveryConfig{Mode: DiscoveryUnicast},
		Timeouts:  testTimeouts(),
	}
	if _, err := cfg.EffectiveSendPort(); err == nil {
		t.Fatal("expected recursive loopback configuration to be rejected")
	}
}
