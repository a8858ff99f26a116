// Package bridge implements the OctopusMQ bridge subsystem: the UDP
// discovery/reliability protocol that federates this adapter's local
// message_queue with the same queue on remote hosts. Server is the single
// reactor goroutine (§5): it owns the UDP socket, the peer table, and every
// timer, and nothing outside Run's own goroutine ever touches a peer.Conn
// directly.
package bridge

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/peer"
	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// PublishedMessage is what the adapter layer hands the reactor for outgoing
// fan-out, mirroring wire.PublishedMessage but without the origin fields the
// reactor fills in itself.
type PublishedMessage struct {
	QoS            uint8
	Topic          string
	OriginClientID string
	Payload        []byte
}

type recvDatagram struct {
	addr phy.Addr
	data []byte
}

type timeoutEvent struct {
	addr phy.Addr
	kind wire.Kind
}

// Server is one bridge adapter's reactor: one UDP socket, one peer table, one
// goroutine driving all of it.
type Server struct {
	cfg    Config
	logger zerolog.Logger
	conn   *net.UDPConn

	peers            map[phy.Addr]*peer.Conn
	nextHeartbeatSend map[phy.Addr]time.Time
	nextRescan       time.Time

	recvCh      chan recvDatagram
	ackTimeouts chan timeoutEvent
	cmdCh       chan func(*Server)
	stopCh      chan struct{}
	stoppedCh   chan struct{}

	publicationSeq  uint32
	subscriptionSeq uint32

	outbox     []wire.PublishedMessage
	batchTimer *time.Timer

	// OnPublish is invoked for every application message received from a
	// peer, intended to be wired to the bus queue by bridge.Adapter.
	OnPublish func(addr phy.Addr, msg wire.PublishedMessage)
	// OnProtocolError and OnNetworkError report errors for logging/metrics.
	OnProtocolError func(*ProtocolError)
	OnNetworkError  func(error)
}

// NewServer constructs a Server for cfg. The socket is not opened until Run.
func NewServer(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:               cfg,
		logger:            logger,
		peers:             make(map[phy.Addr]*peer.Conn),
		nextHeartbeatSend: make(map[phy.Addr]time.Time),
		recvCh:            make(chan recvDatagram, 64),
		ackTimeouts:       make(chan timeoutEvent, 64),
		cmdCh:             make(chan func(*Server), 256),
		stopCh:            make(chan struct{}),
		stoppedCh:         make(chan struct{}),
	}
}

// tickInterval is the reactor's housekeeping granularity: heartbeat liveness
// checks, outgoing heartbeats, and rescans are all evaluated against
// wall-clock deadlines at this cadence, not driven by one timer apiece.
func (s *Server) tickInterval() time.Duration {
	if s.cfg.Timeouts.Acknowledge > 0 && s.cfg.Timeouts.Acknowledge < time.Second {
		return s.cfg.Timeouts.Acknowledge
	}
	return time.Second
}

// Run opens the socket, launches the blocking-read goroutine, and runs the
// reactor loop until ctx is cancelled or Stop is called. It returns when the
// reactor has fully shut down.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stoppedCh)
	udpAddr := &net.UDPAddr{IP: net.IP(phy.IPBytes(s.cfg.ListenAddr().IP)[:]), Port: int(s.cfg.Port)}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.cfg.ListenAddr(), err)
	}
	s.conn = conn
	defer conn.Close()

	if err := s.setupSocketOptions(); err != nil {
		return err
	}

	go s.recvLoop()

	s.nextRescan = time.Now()
	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case dg := <-s.recvCh:
			s.handleDatagram(dg)
		case ev := <-s.ackTimeouts:
			s.handleAckTimeout(ev.addr, ev.kind)
		case f := <-s.cmdCh:
			f(s)
		case <-s.flushTimerC():
			s.flushPublishBatch()
		case <-ticker.C:
			s.houseKeep()
		}
	}
}

// Stop requests the reactor loop to exit and blocks until it has.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.stoppedCh
}

func (s *Server) recvLoop() {
	buf := make([]byte, 65535)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if s.OnNetworkError != nil {
				s.OnNetworkError(fmt.Errorf("bridge: read: %w", err))
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)
		addr := phy.Addr{IP: phy.IPFromBytes(ip4(raddr.IP)), Port: uint16(raddr.Port)}
		select {
		case s.recvCh <- recvDatagram{addr: addr, data: data}:
		case <-s.stopCh:
			return
		}
	}
}

func ip4(ip net.IP) [4]byte {
	v4 := ip.To4()
	var b [4]byte
	copy(b[:], v4)
	return b
}

func (s *Server) write(addr phy.Addr, payload []byte) {
	_, err := s.conn.WriteToUDP(payload, &net.UDPAddr{IP: net.IP(phy.IPBytes(addr.IP)[:]), Port: int(addr.Port)})
	if err != nil && s.OnNetworkError != nil {
		s.OnNetworkError(fmt.Errorf("bridge: write to %s: %w", addr, err))
	}
}

func (s *Server) reportProtocolError(addr phy.Addr, t wire.Type, err error) {
	if s.OnProtocolError != nil {
		s.OnProtocolError(&ProtocolError{Peer: addr, PacketType: t, Err: err})
	}
}

// getOrCreateConn looks up addr's connection record, creating it in the
// undiscovered state if absent. It never advances state itself -- callers
// (handleHeartbeat's transitive discovery, rescan's initial/periodic probe,
// handleDatagram's dispatch) each decide explicitly whether and when to call
// sendProbe, so a lookup is never mistaken for a sent packet.
func (s *Server) getOrCreateConn(addr phy.Addr) *peer.Conn {
	if c, ok := s.peers[addr]; ok {
		return c
	}
	c := peer.NewConn(addr)
	s.peers[addr] = c
	return c
}

// submit queues f to run on the reactor goroutine, the only way external
// callers (bridge.Adapter, driven by the bus) reach into Server state.
func (s *Server) submit(f func(*Server)) {
	select {
	case s.cmdCh <- f:
	case <-s.stopCh:
	}
}

// Publish schedules msg to be batched and forwarded to every discovered peer
// (§4.6).
func (s *Server) Publish(msg PublishedMessage) {
	s.submit(func(s *Server) { s.enqueuePublish(msg) })
}

// SetOnPublish installs the callback invoked for every application message
// received from a peer, routed through the reactor goroutine like every
// other mutation of Server state.
func (s *Server) SetOnPublish(f func(phy.Addr, wire.PublishedMessage)) {
	s.submit(func(s *Server) { s.OnPublish = f })
}

// Subscribe broadcasts subs as a batch of subscribe packets to every
// discovered peer.
func (s *Server) Subscribe(subs []wire.Subscription) {
	s.submit(func(s *Server) { s.sendSubUnsub(subs, wire.KindSubscribe) })
}

// Unsubscribe broadcasts subs as a batch of unsubscribe packets to every
// discovered peer.
func (s *Server) Unsubscribe(subs []wire.Subscription) {
	s.submit(func(s *Server) { s.sendSubUnsub(subs, wire.KindUnsubscribe) })
}

// DisconnectPeer sends one fire-and-forget disconnect packet to addr and
// moves it to Disconnected locally regardless of any reply (§4.4).
func (s *Server) DisconnectPeer(addr phy.Addr) {
	s.submit(func(s *Server) { s.doDisconnect(addr) })
}

// PeerStates returns a snapshot of every known peer's current state, for
// diagnostics and metrics. It round-trips through the reactor goroutine
// since the peer table is otherwise unsynchronized.
func (s *Server) PeerStates() map[phy.Addr]peer.State {
	resp := make(chan map[phy.Addr]peer.State, 1)
	s.submit(func(s *Server) {
		out := make(map[phy.Addr]peer.State, len(s.peers))
		for addr, c := range s.peers {
			out[addr] = c.State
		}
		resp <- out
	})
	select {
	case m := <-resp:
		return m
	case <-s.stoppedCh:
		return nil
	}
}
