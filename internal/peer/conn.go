// Package peer implements the per-peer connection record and reliability
// state machine (§3, §4.3-§4.4). A Conn is owned by exactly one
// bridge.Server and must only be touched from that server's single reactor
// goroutine -- there is no internal locking.
package peer

import (
	"time"

	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// State is a peer's position in the discovery/reliability state machine.
type State int

const (
	Undiscovered State = iota
	DiscoveryRequested
	Discovered
	Disconnected
)

func (s State) String() string {
	switch s {
	case Undiscovered:
		return "undiscovered"
	case DiscoveryRequested:
		return "discovery_requested"
	case Discovered:
		return "discovered"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MaxNacks is the small constant budget of NACKs a pending packet may
// receive before the sender gives up and disconnects the peer.
const MaxNacks = 3

// pending tracks one outstanding normal packet awaiting an ACK.
type pending struct {
	kind    wire.Kind
	seq     uint32
	payload []byte
	timer   *time.Timer
	nacks   int
}

// Conn is the per-peer connection record: §3 "Connection record".
type Conn struct {
	Address phy.Addr

	State State

	LastSentSeqN uint32 // monotonically increasing, per-direction
	LastRecvSeqN uint32

	LastSentPacketType wire.Type
	LastRecvPacketType wire.Type

	LastHeartbeatRecv time.Time

	// recvInitialized becomes true once the first packet has been accepted
	// from this peer, after which CheckSequence enforces strict ordering.
	recvInitialized bool

	nackCountByKind map[wire.Kind]int

	// pendingAcks holds at most one outstanding send per kind: the reactor
	// never has two unacknowledged packets of the same kind in flight to a
	// single peer at once.
	pendingAcks map[wire.Kind]*pending

	// BlockQueues holds builders for subsequent MTU-bounded blocks of a
	// multi-block subscribe/unsubscribe/publish send, queued behind the
	// single in-flight send per kind (§4.2 block_n/total_blocks).
	BlockQueues map[wire.Kind][]func(seq uint32) []byte
}

// NewConn creates a connection record for addr in the Undiscovered state.
func NewConn(addr phy.Addr) *Conn {
	return &Conn{
		Address:         addr,
		State:           Undiscovered,
		nackCountByKind: make(map[wire.Kind]int),
		pendingAcks:     make(map[wire.Kind]*pending),
		BlockQueues:     make(map[wire.Kind][]func(seq uint32) []byte),
	}
}

// NextSendSeq consumes and returns the next outgoing sequence number. Every
// outgoing normal packet consumes exactly one.
func (c *Conn) NextSendSeq() uint32 {
	c.LastSentSeqN++
	return c.LastSentSeqN
}

// AcceptsType reports whether t is a permitted incoming packet type given
// c's current state, per the table in §4.3.
func (c *Conn) AcceptsType(t wire.Type) bool {
	switch c.State {
	case Undiscovered, Disconnected:
		return t == wire.TypeProbe
	case DiscoveryRequested:
		return t == wire.TypeProbe || t == wire.TypeProbeAck
	case Discovered:
		switch t.Family() {
		case wire.FamilyNormal, wire.FamilyNack:
			return true
		case wire.FamilyAck:
			return t.Kind() == c.LastSentPacketType.Kind()
		}
	}
	return false
}

// CheckSequence validates an incoming normal packet's sequence number
// against c.LastRecvSeqN, per §4.4 ordering rules: strictly older is
// rejected as out of order; equal to the last accepted sequence number is a
// duplicate (permitted, to re-ACK after ACK loss); anything higher is
// accepted. CheckSequence does not change the counter; AcceptRecv advances it.
//
// isDuplicate is true when seq equals the most recently accepted sequence
// number for this peer (the caller should re-send the ACK but not otherwise
// reprocess the packet).
func (c *Conn) CheckSequence(seq uint32) (isDuplicate bool, outOfOrder bool) {
	if !c.recvInitialized {
		return false, false
	}
	if seq == c.LastRecvSeqN {
		return true, false
	}
	if seq < c.LastRecvSeqN {
		return false, true
	}
	return false, false
}

// AcceptRecv records a freshly accepted incoming packet's sequence number
// and type.
func (c *Conn) AcceptRecv(t wire.Type, seq uint32) {
	c.LastRecvSeqN = seq
	c.LastRecvPacketType = t
	c.recvInitialized = true
}

// ArmAck registers kind/seq/payload as awaiting acknowledgement, scheduling
// onTimeout to fire after d if no ACK arrives (§4.4). Any previously armed
// timer for the same kind is stopped first. Re-arming the same seq keeps its
// NACK count; arming a new seq starts the count at zero.
func (c *Conn) ArmAck(kind wire.Kind, seq uint32, payload []byte, d time.Duration, onTimeout func()) {
	if old, ok := c.pendingAcks[kind]; ok {
		old.timer.Stop()
		if old.seq != seq {
			c.nackCountByKind[kind] = 0
		}
	} else {
		c.nackCountByKind[kind] = 0
	}
	p := &pending{kind: kind, seq: seq, payload: payload}
	p.timer = time.AfterFunc(d, onTimeout)
	c.pendingAcks[kind] = p
	c.LastSentPacketType = wire.MakeType(wire.FamilyNormal, kind)
}

// DisarmAck cancels and removes any pending ACK timer for kind, e.g. because
// the ACK arrived.
func (c *Conn) DisarmAck(kind wire.Kind) {
	if p, ok := c.pendingAcks[kind]; ok {
		p.timer.Stop()
		delete(c.pendingAcks, kind)
	}
	c.nackCountByKind[kind] = 0
}

// Pending reports the outstanding send for kind, if any.
func (c *Conn) Pending(kind wire.Kind) (seq uint32, payload []byte, ok bool) {
	p, ok := c.pendingAcks[kind]
	if !ok {
		return 0, nil, false
	}
	return p.seq, p.payload, true
}

// RegisterNack increments the retry count for kind and reports whether the
// budget (MaxNacks) has been exhausted.
func (c *Conn) RegisterNack(kind wire.Kind) (exhausted bool) {
	c.nackCountByKind[kind]++
	return c.nackCountByKind[kind] > MaxNacks
}

// Close stops every pending ACK timer, e.g. on shutdown or disconnect.
func (c *Conn) Close() {
	for k, p := range c.pendingAcks {
		p.timer.Stop()
		delete(c.pendingAcks, k)
	}
	c.BlockQueues = make(map[wire.Kind][]func(seq uint32) []byte)
}

// QueueBlock appends a pending block builder for kind, to be sent once the
// currently in-flight block of that kind is acknowledged.
func (c *Conn) QueueBlock(kind wire.Kind, build func(seq uint32) []byte) {
	c.BlockQueues[kind] = append(c.BlockQueues[kind], build)
}

// NextBlock pops and returns the next queued block builder for kind, if any.
func (c *Conn) NextBlock(kind wire.Kind) (func(seq uint32) []byte, bool) {
	q := c.BlockQueues[kind]
	if len(q) == 0 {
		return nil, false
	}
	c.BlockQueues[kind] = q[1:]
	return q[0], true
}
