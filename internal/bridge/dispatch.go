package bridge

import (
	"time"

	"github.com/octopus-mq/octopusmq/internal/peer"
	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// handleDatagram is the single entry point for every received UDP datagram,
// implementing the §4.2/§4.3 validate-then-dispatch pipeline.
func (s *Server) handleDatagram(dg recvDatagram) {
	if s.isSelf(dg.addr) {
		// A broadcast or multicast send looped back to its own sender on
		// some platforms; drop it without any state change (§8 scenario 4).
		return
	}

	pkt, err := wire.Parse(dg.data)
	if err != nil {
		s.reportProtocolError(dg.addr, 0, err)
		return
	}
	h := pkt.Header()
	conn := s.getOrCreateConn(dg.addr)
	if !conn.AcceptsType(h.Type) {
		s.reportProtocolError(dg.addr, h.Type, ErrInvalidPacketSequence)
		return
	}

	switch h.Type.Family() {
	case wire.FamilyAck:
		s.handleAck(conn, h)
	case wire.FamilyNack:
		s.handleNack(conn, h)
	default:
		s.handleNormal(conn, pkt, h)
	}
}

func (s *Server) handleAck(conn *peer.Conn, h wire.Header) {
	kind := h.Type.Kind()
	if kind == wire.KindProbe {
		wasRequested := conn.State == peer.DiscoveryRequested
		conn.OnRecvProbeAck()
		if wasRequested {
			conn.LastHeartbeatRecv = time.Now()
		}
	}
	conn.DisarmAck(kind)

	if build, ok := conn.NextBlock(kind); ok {
		s.sendBlock(conn, kind, build)
	}
}

func (s *Server) handleNack(conn *peer.Conn, h wire.Header) {
	kind := h.Type.Kind()
	if conn.LastRecvPacketType.Kind() == kind && h.SequenceNumber == conn.LastRecvSeqN {
		ack := wire.NewAck(kind, h.SequenceNumber)
		s.write(conn.Address, ack.Payload())
		return
	}
	s.reportProtocolError(conn.Address, h.Type, ErrNackDoesNotExist)
}

func (s *Server) handleNormal(conn *peer.Conn, pkt wire.Packet, h wire.Header) {
	dup, outOfOrder := conn.CheckSequence(h.SequenceNumber)
	if outOfOrder {
		s.reportProtocolError(conn.Address, h.Type, ErrOutOfOrder)
		return
	}

	switch b := pkt.(type) {
	case wire.Probe:
		s.handleProbe(conn, b)
	case wire.Heartbeat:
		s.handleHeartbeat(conn, b, dup)
	case wire.SubUnsub:
		s.handleSubUnsubRecv(conn, b)
	case wire.Publish:
		s.handlePublishRecv(conn, b, dup)
	case wire.Disconnect:
		s.handleDisconnectRecv(conn, b)
	}

	if !dup {
		conn.AcceptRecv(h.Type, h.SequenceNumber)
	}
}

func (s *Server) handleProbe(conn *peer.Conn, p wire.Probe) {
	wasUndiscovered := conn.State != peer.Discovered
	conn.OnRecvProbe()
	if wasUndiscovered {
		conn.LastHeartbeatRecv = time.Now()
	}
	ack := wire.NewAck(wire.KindProbe, p.Header().SequenceNumber)
	s.write(conn.Address, ack.Payload())
}

func (s *Server) handleHeartbeat(conn *peer.Conn, hb wire.Heartbeat, dup bool) {
	if !dup {
		conn.LastHeartbeatRecv = time.Now()
		for _, pe := range hb.Peers {
			addr := phy.Addr{IP: pe.IP, Port: pe.Port}
			if addr == conn.Address || s.isSelf(addr) {
				continue
			}
			if _, known := s.peers[addr]; known {
				continue
			}
			c := s.getOrCreateConn(addr)
			if c.State == peer.Undiscovered {
				s.sendProbe(c)
			}
		}
	}
	ack := wire.NewAck(wire.KindHeartbeat, hb.Header().SequenceNumber)
	s.write(conn.Address, ack.Payload())
}

// handleSubUnsubRecv acknowledges a subscribe/unsubscribe block. Interest
// bookkeeping is intentionally not used to filter outgoing publishes: §4.6
// fans a publication out to every discovered peer unconditionally.
func (s *Server) handleSubUnsubRecv(conn *peer.Conn, su wire.SubUnsub) {
	kind := su.Header().Type.Kind()
	ack := wire.NewAck(kind, su.Header().SequenceNumber)
	s.write(conn.Address, ack.Payload())
}

func (s *Server) handlePublishRecv(conn *peer.Conn, pub wire.Publish, dup bool) {
	if !dup && s.OnPublish != nil {
		for _, m := range pub.Messages {
			s.OnPublish(conn.Address, m)
		}
	}
	ack := wire.NewAck(wire.KindPublish, pub.Header().SequenceNumber)
	s.write(conn.Address, ack.Payload())
}

func (s *Server) handleDisconnectRecv(conn *peer.Conn, d wire.Disconnect) {
	ack := wire.NewAck(wire.KindDisconnect, d.Header().SequenceNumber)
	s.write(conn.Address, ack.Payload())
	conn.OnRecvDisconnect()
	conn.Close()
	delete(s.nextHeartbeatSend, conn.Address)
}

func (s *Server) doDisconnect(addr phy.Addr) {
	conn, ok := s.peers[addr]
	if !ok {
		return
	}
	seq := conn.NextSendSeq()
	pkt := wire.NewDisconnect(seq)
	s.write(addr, pkt.Payload())
	conn.State = peer.Disconnected
	conn.Close()
	delete(s.nextHeartbeatSend, addr)
}
