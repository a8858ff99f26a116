package bridge

import (
	"errors"
	"fmt"

	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// Protocol error causes, the §7 Protocol errors taxonomy. Wire-level parse
// failures (packet_too_small, invalid_magic_number, unsupported_version,
// invalid_packet_type, invalid_sequence_number) surface here wrapping the
// wire package's own sentinels; the remaining three are detected by the
// reactor once a packet has parsed successfully.
var (
	ErrInvalidPacketSequence = errors.New("bridge: packet type not accepted in current connection state")
	ErrOutOfOrder            = errors.New("bridge: sequence number older than last accepted")
	ErrNackDoesNotExist      = errors.New("bridge: nack refers to a packet never received")
)

// ProtocolError wraps any error arising from a malformed or unexpected
// packet received from Peer, tagged with the packet type when known.
type ProtocolError struct {
	Peer       phy.Addr
	PacketType wire.Type
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bridge: protocol error from %s (type %s): %v", e.Peer, e.PacketType, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
