package wire

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Probe announces the sender's declared listening endpoint, used when
// discovered via broadcast where the source port may differ from the
// listening port.
type Probe struct {
	basePacket
	IP   uint32
	Port uint16
}

// NewProbe builds a probe packet advertising (ip, port) as the sender's
// listening endpoint.
func NewProbe(seq uint32, ip uint32, port uint16) Probe {
	w := NewWriter(nil)
	putHeader(w, TypeProbe, seq)
	w.PutUint32(ip)
	w.PutUint16(port)
	return Probe{
		basePacket: basePacket{header: Header{Magic: Magic, Version: Version, Type: TypeProbe, SequenceNumber: seq}, payload: w.Bytes()},
		IP:         ip,
		Port:       port,
	}
}

func parseProbeBody(base basePacket, body []byte) (Probe, error) {
	r := NewReader(body)
	ip, err := r.Uint32()
	if err != nil {
		return Probe{}, fmt.Errorf("probe: ip: %w", err)
	}
	port, err := r.Uint16()
	if err != nil {
		return Probe{}, fmt.Errorf("probe: port: %w", err)
	}
	return Probe{basePacket: base, IP: ip, Port: port}, nil
}

// PeerEndpoint is one entry in a heartbeat's peer list: a peer the sender has
// itself discovered, enabling transitive discovery.
type PeerEndpoint struct {
	IP   uint32
	Port uint16
}

// Heartbeat carries the sender's heartbeat interval and its current set of
// discovered peers.
type Heartbeat struct {
	basePacket
	IntervalMS uint32
	Peers      []PeerEndpoint
}

// NewHeartbeat builds a heartbeat packet.
func NewHeartbeat(seq uint32, intervalMS uint32, peers []PeerEndpoint) Heartbeat {
	w := NewWriter(nil)
	putHeader(w, TypeHeartbeat, seq)
	w.PutUint32(intervalMS)
	w.PutUint32(uint32(len(peers)))
	for _, p := range peers {
		w.PutUint32(p.IP)
		w.PutUint16(p.Port)
	}
	return Heartbeat{
		basePacket: basePacket{header: Header{Magic: Magic, Version: Version, Type: TypeHeartbeat, SequenceNumber: seq}, payload: w.Bytes()},
		IntervalMS: intervalMS,
		Peers:      peers,
	}
}

func parseHeartbeatBody(base basePacket, body []byte) (Heartbeat, error) {
	r := NewReader(body)
	interval, err := r.Uint32()
	if err != nil {
		return Heartbeat{}, fmt.Errorf("heartbeat: interval: %w", err)
	}
	n, err := r.Uint32()
	if err != nil {
		return Heartbeat{}, fmt.Errorf("heartbeat: peer count: %w", err)
	}
	peers := make([]PeerEndpoint, 0, n)
	for i := uint32(0); i < n; i++ {
		ip, err := r.Uint32()
		if err != nil {
			return Heartbeat{}, fmt.Errorf("heartbeat: peer %d ip: %w", i, err)
		}
		port, err := r.Uint16()
		if err != nil {
			return Heartbeat{}, fmt.Errorf("heartbeat: peer %d port: %w", i, err)
		}
		peers = append(peers, PeerEndpoint{IP: ip, Port: port})
	}
	return Heartbeat{basePacket: base, IntervalMS: interval, Peers: peers}, nil
}

// HashTopic reports whether topic is eligible for hash-only encoding (its
// UTF-8 form is short and it contains no wildcard) and, if so, its FNV-1a
// 64-bit hash. Topic filters containing wildcards must always be sent as
// names since wildcards expand on receipt.
func HashTopic(topic string) (hash uint64, ok bool) {
	if len(topic) > 7 || strings.ContainsAny(topic, "+#") {
		return 0, false
	}
	h := fnv.New64a()
	h.Write([]byte(topic))
	return h.Sum64(), true
}

// Subscription is one topic filter with its requested QoS, used to build
// Subscribe/Unsubscribe packets.
type Subscription struct {
	TopicFilter string
	QoS         uint8
}

// SubUnsub is the shared body of Subscribe and Unsubscribe: an MTU-bounded
// block of a subscription-id batch, split into hashes (short exact topics)
// and names (everything else, including all wildcard filters).
type SubUnsub struct {
	basePacket
	SubscriptionID uint32
	TotalBlocks    uint32
	BlockN         uint32
	Hashes         []uint64
	Names          []string
}

func encodeSubUnsub(t Type, seq, subID, totalBlocks, blockN uint32, hashes []uint64, names []string) []byte {
	w := NewWriter(nil)
	putHeader(w, t, seq)
	w.PutUint32(subID)
	w.PutUint32(totalBlocks)
	w.PutUint32(blockN)
	w.PutUint32(uint32(len(hashes)))
	for _, h := range hashes {
		w.PutUint64(h)
	}
	w.PutUint32(uint32(len(names)))
	for _, n := range names {
		w.PutString(n)
	}
	return w.Bytes()
}

// SplitSubscriptions partitions subs into the hash-eligible and name-only
// sets required by the wire format. QoS is not carried on the wire for
// subscriptions that use the hash form; name-form entries likewise carry only
// the filter text -- QoS negotiation happens at the bus/adapter layer, which
// clamps to the subscriber's requested maximum per §1 Non-goals.
func SplitSubscriptions(subs []Subscription) (hashes []uint64, names []string) {
	for _, s := range subs {
		if h, ok := HashTopic(s.TopicFilter); ok {
			hashes = append(hashes, h)
		} else {
			names = append(names, s.TopicFilter)
		}
	}
	return
}

// NewSubscribe builds a subscribe packet for one MTU-bounded block.
func NewSubscribe(seq, subID, totalBlocks, blockN uint32, hashes []uint64, names []string) SubUnsub {
	payload := encodeSubUnsub(TypeSubscribe, seq, subID, totalBlocks, blockN, hashes, names)
	return SubUnsub{
		basePacket:     basePacket{header: Header{Magic: Magic, Version: Version, Type: TypeSubscribe, SequenceNumber: seq}, payload: payload},
		SubscriptionID: subID, TotalBlocks: totalBlocks, BlockN: blockN, Hashes: hashes, Names: names,
	}
}

// NewUnsubscribe builds an unsubscribe packet for one MTU-bounded block.
func NewUnsubscribe(seq, subID, totalBlocks, blockN uint32, hashes []uint64, names []string) SubUnsub {
	payload := encodeSubUnsub(TypeUnsubscribe, seq, subID, totalBlocks, blockN, hashes, names)
	return SubUnsub{
		basePacket:     basePacket{header: Header{Magic: Magic, Version: Version, Type: TypeUnsubscribe, SequenceNumber: seq}, payload: payload},
		SubscriptionID: subID, TotalBlocks: totalBlocks, BlockN: blockN, Hashes: hashes, Names: names,
	}
}

func parseSubUnsubBody(base basePacket, body []byte, _ bool) (SubUnsub, error) {
	r := NewReader(body)
	subID, err := r.Uint32()
	if err != nil {
		return SubUnsub{}, fmt.Errorf("subscribe: subscription_id: %w", err)
	}
	totalBlocks, err := r.Uint32()
	if err != nil {
		return SubUnsub{}, fmt.Errorf("subscribe: total_blocks: %w", err)
	}
	blockN, err := r.Uint32()
	if err != nil {
		return SubUnsub{}, fmt.Errorf("subscribe: block_n: %w", err)
	}
	hc, err := r.Uint32()
	if err != nil {
		return SubUnsub{}, fmt.Errorf("subscribe: hash count: %w", err)
	}
	hashes := make([]uint64, 0, hc)
	for i := uint32(0); i < hc; i++ {
		h, err := r.Uint64()
		if err != nil {
			return SubUnsub{}, fmt.Errorf("subscribe: hash %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	nc, err := r.Uint32()
	if err != nil {
		return SubUnsub{}, fmt.Errorf("subscribe: name count: %w", err)
	}
	names := make([]string, 0, nc)
	for i := uint32(0); i < nc; i++ {
		n, err := r.String()
		if err != nil {
			return SubUnsub{}, fmt.Errorf("subscribe: name %d: %w", i, err)
		}
		names = append(names, n)
	}
	return SubUnsub{basePacket: base, SubscriptionID: subID, TotalBlocks: totalBlocks, BlockN: blockN, Hashes: hashes, Names: names}, nil
}

// PublishedMessage is one embedded message within a Publish packet.
type PublishedMessage struct {
	OriginIP       uint32
	OriginPort     uint16
	QoS            uint8
	Topic          string
	OriginClientID string
	Payload        []byte
}

// Publish carries one MTU-bounded block of a batch of published messages.
type Publish struct {
	basePacket
	PublicationID uint32
	TotalBlocks   uint32
	BlockN        uint32
	Messages      []PublishedMessage
}

// NewPublish builds a publish packet for one MTU-bounded block.
func NewPublish(seq, pubID, totalBlocks, blockN uint32, msgs []PublishedMessage) Publish {
	w := NewWriter(nil)
	putHeader(w, TypePublish, seq)
	w.PutUint32(pubID)
	w.PutUint32(totalBlocks)
	w.PutUint32(blockN)
	for _, m := range msgs {
		w.PutUint32(m.OriginIP)
		w.PutUint16(m.OriginPort)
		w.PutUint8(m.QoS)
		w.PutString(m.Topic)
		w.PutString(m.OriginClientID)
		w.PutUint32(uint32(len(m.Payload)))
		w.PutBytes(m.Payload)
	}
	return Publish{
		basePacket:    basePacket{header: Header{Magic: Magic, Version: Version, Type: TypePublish, SequenceNumber: seq}, payload: w.Bytes()},
		PublicationID: pubID, TotalBlocks: totalBlocks, BlockN: blockN, Messages: msgs,
	}
}

func parsePublishBody(base basePacket, body []byte) (Publish, error) {
	r := NewReader(body)
	pubID, err := r.Uint32()
	if err != nil {
		return Publish{}, fmt.Errorf("publish: publication_id: %w", err)
	}
	totalBlocks, err := r.Uint32()
	if err != nil {
		return Publish{}, fmt.Errorf("publish: total_blocks: %w", err)
	}
	blockN, err := r.Uint32()
	if err != nil {
		return Publish{}, fmt.Errorf("publish: block_n: %w", err)
	}
	var msgs []PublishedMessage
	for r.Remaining() > 0 {
		ip, err := r.Uint32()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: origin_ip: %w", err)
		}
		port, err := r.Uint16()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: origin_port: %w", err)
		}
		qos, err := r.Uint8()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: qos: %w", err)
		}
		topic, err := r.String()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: topic: %w", err)
		}
		clid, err := r.String()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: origin_client_id: %w", err)
		}
		plen, err := r.Uint32()
		if err != nil {
			return Publish{}, fmt.Errorf("publish: payload_length: %w", err)
		}
		pb, err := r.Bytes(int(plen))
		if err != nil {
			return Publish{}, fmt.Errorf("publish: payload_bytes: %w", err)
		}
		msgs = append(msgs, PublishedMessage{
			OriginIP: ip, OriginPort: port, QoS: qos, Topic: topic, OriginClientID: clid,
			Payload: append([]byte(nil), pb...),
		})
	}
	return Publish{basePacket: base, PublicationID: pubID, TotalBlocks: totalBlocks, BlockN: blockN, Messages: msgs}, nil
}
