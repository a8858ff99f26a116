package wire

import (
	"errors"
	"fmt"
)

// Magic is the fixed 8-byte header magic, the ASCII string "octopus!".
const Magic uint64 = 0x6f63746f70757321

// Version is the current (and only) supported wire protocol version.
const Version uint8 = 1

const (
	MinVersion = Version
	MaxVersion = Version
)

// HeaderSize is the fixed size of every packet's header in bytes.
const HeaderSize = 8 + 1 + 1 + 4 // magic + version + type + sequence_number

// MinSequenceNumber is the smallest valid sequence number; 0 is reserved and
// always rejected.
const MinSequenceNumber uint32 = 1

// Family is the high nibble of the wire type byte.
type Family uint8

const (
	FamilyNormal Family = 0x00
	FamilyAck    Family = 0x10
	FamilyNack   Family = 0x20
)

// Kind is the low nibble of the wire type byte.
type Kind uint8

const (
	KindProbe       Kind = 0x1
	KindHeartbeat   Kind = 0x2
	KindSubscribe   Kind = 0x3
	KindUnsubscribe Kind = 0x4
	KindPublish     Kind = 0x5
	KindDisconnect  Kind = 0x6
)

func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindHeartbeat:
		return "heartbeat"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindPublish:
		return "publish"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

func (f Family) String() string {
	switch f {
	case FamilyNormal:
		return "normal"
	case FamilyAck:
		return "ack"
	case FamilyNack:
		return "nack"
	default:
		return "unknown"
	}
}

// Type is the wire type byte: family (high nibble) | kind (low nibble).
type Type uint8

// MakeType composes a Type from a family and kind.
func MakeType(f Family, k Kind) Type {
	return Type(uint8(f) | uint8(k))
}

// Family extracts the high nibble.
func (t Type) Family() Family { return Family(uint8(t) & 0xf0) }

// Kind extracts the low nibble.
func (t Type) Kind() Kind { return Kind(uint8(t) & 0x0f) }

func (t Type) String() string {
	return fmt.Sprintf("%s_%s", t.Kind(), t.Family())
}

// Named types for the fixed set of (family, kind) combinations the protocol
// recognizes. disconnect_nack is deliberately absent: disconnects are
// fire-and-forget and receiving a NACK for one is a protocol error.
const (
	TypeProbe       = Type(uint8(FamilyNormal) | uint8(KindProbe))
	TypeProbeAck    = Type(uint8(FamilyAck) | uint8(KindProbe))
	TypeHeartbeat   = Type(uint8(FamilyNormal) | uint8(KindHeartbeat))
	TypeHeartbeatAck = Type(uint8(FamilyAck) | uint8(KindHeartbeat))
	TypeHeartbeatNack = Type(uint8(FamilyNack) | uint8(KindHeartbeat))
	TypeSubscribe    = Type(uint8(FamilyNormal) | uint8(KindSubscribe))
	TypeSubscribeAck = Type(uint8(FamilyAck) | uint8(KindSubscribe))
	TypeSubscribeNack = Type(uint8(FamilyNack) | uint8(KindSubscribe))
	TypeUnsubscribe    = Type(uint8(FamilyNormal) | uint8(KindUnsubscribe))
	TypeUnsubscribeAck = Type(uint8(FamilyAck) | uint8(KindUnsubscribe))
	TypeUnsubscribeNack = Type(uint8(FamilyNack) | uint8(KindUnsubscribe))
	TypePublish    = Type(uint8(FamilyNormal) | uint8(KindPublish))
	TypePublishAck = Type(uint8(FamilyAck) | uint8(KindPublish))
	TypePublishNack = Type(uint8(FamilyNack) | uint8(KindPublish))
	TypeDisconnect    = Type(uint8(FamilyNormal) | uint8(KindDisconnect))
	TypeDisconnectAck = Type(uint8(FamilyAck) | uint8(KindDisconnect))
)

// IsValidType reports whether t is a recognized (family, kind) pair,
// excluding disconnect_nack and probe_nack (probe_nack is never emitted --
// probes are retried as fresh probes). probe_ack is valid.
func IsValidType(t Type) bool {
	switch t {
	case TypeProbe, TypeProbeAck,
		TypeHeartbeat, TypeHeartbeatAck, TypeHeartbeatNack,
		TypeSubscribe, TypeSubscribeAck, TypeSubscribeNack,
		TypeUnsubscribe, TypeUnsubscribeAck, TypeUnsubscribeNack,
		TypePublish, TypePublishAck, TypePublishNack,
		TypeDisconnect, TypeDisconnectAck:
		return true
	default:
		return false
	}
}

// Header is the fixed 14-byte packet header.
type Header struct {
	Magic          uint64
	Version        uint8
	Type           Type
	SequenceNumber uint32
}

// Protocol errors, one per §4.2/§7 validation step. Wrap with fmt.Errorf and
// %w so callers can errors.Is against these sentinels.
var (
	ErrPacketTooSmall        = errors.New("wire: packet too small")
	ErrInvalidMagicNumber    = errors.New("wire: invalid magic number")
	ErrUnsupportedVersion    = errors.New("wire: unsupported version")
	ErrInvalidPacketType     = errors.New("wire: invalid packet type")
	ErrInvalidSequenceNumber = errors.New("wire: invalid sequence number")
)

// ParseHeader validates and decodes the 14-byte header at the start of buf,
// performing the fail-fast checks from §4.2 in order.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrPacketTooSmall
	}
	r := NewReader(buf)

	magic, _ := r.Uint64()
	if magic != Magic {
		return Header{}, ErrInvalidMagicNumber
	}

	ver, _ := r.Uint8()
	if ver < MinVersion || ver > MaxVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, ver)
	}

	typ, _ := r.Uint8()
	t := Type(typ)
	if !IsValidType(t) {
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrInvalidPacketType, typ)
	}

	seq, _ := r.Uint32()
	if seq < MinSequenceNumber {
		return Header{}, ErrInvalidSequenceNumber
	}

	return Header{Magic: magic, Version: ver, Type: t, SequenceNumber: seq}, nil
}

// putHeader writes the 14-byte header (magic, version, t, seq) to w; each
// packet constructor then appends its own body.
func putHeader(w *Writer, t Type, seq uint32) {
	w.PutUint64(Magic)
	w.PutUint8(Version)
	w.PutUint8(uint8(t))
	w.PutUint32(seq)
}

// Packet is implemented by every decoded/encoded bridge packet.
type Packet interface {
	Header() Header
	// Payload returns the full serialized packet (header + body), computed
	// once at construction time and reused on every send.
	Payload() []byte
}

// basePacket stores the common header/payload pair embedded by every
// concrete packet type.
type basePacket struct {
	header  Header
	payload []byte
}

func (p basePacket) Header() Header   { return p.header }
func (p basePacket) Payload() []byte { return p.payload }

// Parse materializes the correct packet variant from a received buffer,
// performing the full §4.2 validation (header first, then kind-specific body
// parsing).
func Parse(buf []byte) (Packet, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[HeaderSize:]

	base := basePacket{header: h, payload: append([]byte(nil), buf...)}

	switch h.Type.Family() {
	case FamilyAck:
		return Ack{basePacket: base}, nil
	case FamilyNack:
		return Nack{basePacket: base}, nil
	}

	switch h.Type.Kind() {
	case KindProbe:
		return parseProbeBody(base, body)
	case KindHeartbeat:
		return parseHeartbeatBody(base, body)
	case KindSubscribe:
		return parseSubUnsubBody(base, body, false)
	case KindUnsubscribe:
		return parseSubUnsubBody(base, body, true)
	case KindPublish:
		return parsePublishBody(base, body)
	case KindDisconnect:
		return Disconnect{basePacket: base}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidPacketType, uint8(h.Type))
	}
}

// Ack is the generic header-only acknowledgement packet; the type's kind
// nibble identifies what is being acknowledged.
type Ack struct{ basePacket }

// NewAck builds an ack for the given acknowledged kind and sequence number.
func NewAck(k Kind, seq uint32) Ack {
	t := MakeType(FamilyAck, k)
	w := NewWriter(nil)
	putHeader(w, t, seq)
	return Ack{basePacket{header: Header{Magic: Magic, Version: Version, Type: t, SequenceNumber: seq}, payload: w.Bytes()}}
}

// Nack is the generic header-only negative-acknowledgement packet.
type Nack struct{ basePacket }

// NewNack builds a nack requesting retransmission of the given kind/sequence.
func NewNack(k Kind, seq uint32) Nack {
	t := MakeType(FamilyNack, k)
	w := NewWriter(nil)
	putHeader(w, t, seq)
	return Nack{basePacket{header: Header{Magic: Magic, Version: Version, Type: t, SequenceNumber: seq}, payload: w.Bytes()}}
}

// Disconnect is a fire-and-forget normal packet; it carries no body. There is
// no disconnect_nack: receiving one is a protocol error.
type Disconnect struct{ basePacket }

// NewDisconnect builds a disconnect packet for seq.
func NewDisconnect(seq uint32) Disconnect {
	w := NewWriter(nil)
	putHeader(w, TypeDisconnect, seq)
	return Disconnect{basePacket{header: Header{Magic: Magic, Version: Version, Type: TypeDisconnect, SequenceNumber: seq}, payload: w.Bytes()}}
}
