package bridge

import (
	"time"

	"github.com/octopus-mq/octopusmq/internal/peer"
	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// ackTimeoutFor returns the timer duration used while a packet of kind is
// outstanding: probes use the discovery timeout, everything else uses
// acknowledge (§4.4).
func (s *Server) ackTimeoutFor(kind wire.Kind) time.Duration {
	if kind == wire.KindProbe {
		return s.cfg.Timeouts.Discovery
	}
	return s.cfg.Timeouts.Acknowledge
}

// timeoutClosure builds the onTimeout callback passed to peer.Conn.ArmAck. It
// captures only the peer's address and the packet kind, never the *Conn
// itself, so the timer goroutine never touches connection state directly
// (§9 design note on timer closures) -- it hands the event back to the
// reactor loop instead.
func (s *Server) timeoutClosure(addr phy.Addr, kind wire.Kind) func() {
	return func() {
		select {
		case s.ackTimeouts <- timeoutEvent{addr: addr, kind: kind}:
		case <-s.stopCh:
		}
	}
}

// sendBlock transmits one already-built packet block and arms its ack timer.
func (s *Server) sendBlock(conn *peer.Conn, kind wire.Kind, build func(seq uint32) []byte) {
	seq := conn.NextSendSeq()
	payload := build(seq)
	s.write(conn.Address, payload)
	conn.ArmAck(kind, seq, payload, s.ackTimeoutFor(kind), s.timeoutClosure(conn.Address, kind))
}

// sendReliable transmits build's block now if kind has no packet in flight,
// otherwise queues it behind the one that is (§4.2 block sequencing: only
// one unacknowledged packet per kind per peer at a time).
func (s *Server) sendReliable(conn *peer.Conn, kind wire.Kind, build func(seq uint32) []byte) {
	if _, _, inFlight := conn.Pending(kind); inFlight {
		conn.QueueBlock(kind, build)
		return
	}
	s.sendBlock(conn, kind, build)
}

// handleAckTimeout fires when a peer has not acknowledged an outstanding
// packet within its timeout. Probes are retried as fresh probes
// (probe_nack is never emitted); every other kind emits a NACK and consumes
// one unit of the peer's retry budget, disconnecting it once exhausted.
func (s *Server) handleAckTimeout(addr phy.Addr, kind wire.Kind) {
	conn, ok := s.peers[addr]
	if !ok {
		return
	}
	seq, payload, ok := conn.Pending(kind)
	if !ok {
		return
	}

	if kind == wire.KindProbe {
		s.retryProbe(conn)
		return
	}

	if conn.RegisterNack(kind) {
		s.logger.Warn().Str("peer", addr.String()).Str("kind", kind.String()).
			Msg("nack budget exhausted, disconnecting peer")
		conn.OnNackBudgetExhausted()
		conn.Close()
		delete(s.nextHeartbeatSend, addr)
		return
	}

	nack := wire.NewNack(kind, seq)
	s.write(addr, nack.Payload())
	conn.ArmAck(kind, seq, payload, s.cfg.Timeouts.Acknowledge, s.timeoutClosure(addr, kind))
}

// sendProbe moves an undiscovered conn into discovery_requested (a conn in
// any other state keeps its state) and sends the initial probe.
func (s *Server) sendProbe(conn *peer.Conn) {
	conn.OnSendProbe()
	s.retryProbe(conn)
}

// retryProbe sends a brand new probe with a fresh sequence number, re-arming
// the discovery timer. The probe advertises this adapter's listening
// endpoint.
func (s *Server) retryProbe(conn *peer.Conn) {
	seq := conn.NextSendSeq()
	pkt := wire.NewProbe(seq, s.cfg.Interface.IP, s.cfg.Port)
	s.write(conn.Address, pkt.Payload())
	conn.ArmAck(wire.KindProbe, seq, pkt.Payload(), s.cfg.Timeouts.Discovery, s.timeoutClosure(conn.Address, wire.KindProbe))
}

// rescan (re-)sends an initial probe to every discovery target not yet
// discovered: every remaining unicast candidate, or the single multicast
// group / broadcast address for those modes (§4.4 last line, §4.5).
func (s *Server) rescan() {
	targets, err := s.discoveryTargets()
	if err != nil {
		if s.OnNetworkError != nil {
			s.OnNetworkError(err)
		}
		return
	}
	for _, addr := range targets {
		conn := s.getOrCreateConn(addr)
		if conn.State == peer.Undiscovered || conn.State == peer.Disconnected {
			s.sendProbe(conn)
		}
	}
}

// sendHeartbeat emits one heartbeat to conn carrying every other discovered
// peer's endpoint, enabling transitive discovery.
func (s *Server) sendHeartbeat(conn *peer.Conn) {
	var peers []wire.PeerEndpoint
	for addr, c := range s.peers {
		if addr == conn.Address || c.State != peer.Discovered {
			continue
		}
		peers = append(peers, wire.PeerEndpoint{IP: addr.IP, Port: addr.Port})
	}
	intervalMS := uint32(s.cfg.Timeouts.Heartbeat / time.Millisecond)
	build := func(seq uint32) []byte {
		return wire.NewHeartbeat(seq, intervalMS, peers).Payload()
	}
	s.sendReliable(conn, wire.KindHeartbeat, build)
}

// houseKeep evaluates heartbeat liveness, emits due outgoing heartbeats, and
// triggers rescans (in every discovery mode), all at the reactor's tick
// cadence.
func (s *Server) houseKeep() {
	now := time.Now()
	deadline := s.cfg.Timeouts.Heartbeat + s.cfg.Timeouts.Acknowledge*time.Duration(peer.MaxNacks)

	for addr, conn := range s.peers {
		if conn.State != peer.Discovered {
			continue
		}
		if !conn.LastHeartbeatRecv.IsZero() && now.Sub(conn.LastHeartbeatRecv) > deadline {
			s.logger.Warn().Str("peer", addr.String()).Msg("heartbeat timeout, disconnecting peer")
			conn.OnHeartbeatTimeout()
			conn.Close()
			delete(s.nextHeartbeatSend, addr)
			continue
		}
		if due, ok := s.nextHeartbeatSend[addr]; !ok || now.After(due) {
			s.sendHeartbeat(conn)
			s.nextHeartbeatSend[addr] = now.Add(s.cfg.Timeouts.Heartbeat)
		}
	}

	if now.After(s.nextRescan) {
		s.rescan()
		s.nextRescan = now.Add(s.cfg.Timeouts.Rescan)
	}
}
