package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTripProbe(t *testing.T) {
	p := NewProbe(1, 0x0a000001, 9000)
	rt, err := Parse(p.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rt.Payload(), p.Payload()) {
		t.Error("round trip bytes mismatch")
	}
	rp := rt.(Probe)
	if rp.IP != p.IP || rp.Port != p.Port {
		t.Errorf("got %+v, want %+v", rp, p)
	}
}

func TestRoundTripHeartbeat(t *testing.T) {
	peers := []PeerEndpoint{{IP: 1, Port: 2}, {IP: 3, Port: 4}}
	p := NewHeartbeat(5, 60000, peers)
	rt, err := Parse(p.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rt.Payload(), p.Payload()) {
		t.Error("round trip bytes mismatch")
	}
	hb := rt.(Heartbeat)
	if hb.IntervalMS != 60000 || len(hb.Peers) != 2 {
		t.Errorf("got %+v", hb)
	}
}

func TestRoundTripSubscribeEmpty(t *testing.T) {
	// zero topics and zero hashes is a valid no-op subscribe.
	p := NewSubscribe(1, 1, 1, 0, nil, nil)
	rt, err := Parse(p.Payload())
	if err != nil {
		t.Fatal(err)
	}
	su := rt.(SubUnsub)
	if len(su.Hashes) != 0 || len(su.Names) != 0 {
		t.Errorf("expected no-op subscribe, got %+v", su)
	}
}

func TestRoundTripSubscribeMixed(t *testing.T) {
	subs := []Subscription{
		{TopicFilter: "a/b", QoS: 0},       // hashable (<=7 bytes, no wildcard)
		{TopicFilter: "a/+/c", QoS: 1},     // wildcard -> name
		{TopicFilter: "really/long/topic"}, // too long -> name
	}
	hashes, names := SplitSubscriptions(subs)
	p := NewSubscribe(1, 42, 1, 0, hashes, names)
	rt, err := Parse(p.Payload())
	if err != nil {
		t.Fatal(err)
	}
	su := rt.(SubUnsub)
	if len(su.Hashes) != 1 || len(su.Names) != 2 {
		t.Errorf("got hashes=%d names=%d", len(su.Hashes), len(su.Names))
	}
}

func TestRoundTripPublish(t *testing.T) {
	msgs := []PublishedMessage{
		{OriginIP: 1, OriginPort: 2, QoS: 1, Topic: "x/y", OriginClientID: "cid", Payload: []byte("hi")},
	}
	p := NewPublish(9, 7, 1, 0, msgs)
	rt, err := Parse(p.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rt.Payload(), p.Payload()) {
		t.Error("round trip bytes mismatch")
	}
	pub := rt.(Publish)
	if len(pub.Messages) != 1 || pub.Messages[0].Topic != "x/y" || string(pub.Messages[0].Payload) != "hi" {
		t.Errorf("got %+v", pub)
	}
}

func TestRoundTripAckNack(t *testing.T) {
	a := NewAck(KindHeartbeat, 5)
	rt, err := Parse(a.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if rt.Header().Type != TypeHeartbeatAck {
		t.Errorf("got type %v", rt.Header().Type)
	}

	n := NewNack(KindHeartbeat, 5)
	rt, err = Parse(n.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if rt.Header().Type != TypeHeartbeatNack {
		t.Errorf("got type %v", rt.Header().Type)
	}
}

func TestDisconnectNackInvalid(t *testing.T) {
	buf := NewDisconnect(1).Payload()
	// flip the type byte to disconnect_nack (0x26)
	buf[9] = 0x26
	_, err := Parse(buf)
	if !errors.Is(err, ErrInvalidPacketType) {
		t.Errorf("got %v, want ErrInvalidPacketType", err)
	}
}

func TestPacketTooSmall(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	if !errors.Is(err, ErrPacketTooSmall) {
		t.Errorf("got %v, want ErrPacketTooSmall", err)
	}
}

func TestInvalidMagic(t *testing.T) {
	buf := NewProbe(1, 0, 0).Payload()
	buf[0] ^= 0xff
	_, err := Parse(buf)
	if !errors.Is(err, ErrInvalidMagicNumber) {
		t.Errorf("got %v, want ErrInvalidMagicNumber", err)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	buf := NewProbe(1, 0, 0).Payload()
	buf[8] = 2
	_, err := Parse(buf)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestInvalidSequenceNumberZero(t *testing.T) {
	buf := NewProbe(1, 0, 0).Payload()
	for i := 10; i < 14; i++ {
		buf[i] = 0
	}
	_, err := Parse(buf)
	if !errors.Is(err, ErrInvalidSequenceNumber) {
		t.Errorf("got %v, want ErrInvalidSequenceNumber", err)
	}
}

func TestHashTopic(t *testing.T) {
	if _, ok := HashTopic("a/+/c"); ok {
		t.Error("wildcard topic should not be hashable")
	}
	if _, ok := HashTopic("12345678"); ok {
		t.Error("8-byte topic should not be hashable (needs room for implicit NUL budget)")
	}
	h1, ok := HashTopic("a/b")
	if !ok {
		t.Fatal("expected hashable")
	}
	h2, _ := HashTopic("a/b")
	if h1 != h2 {
		t.Error("hash should be deterministic")
	}
}
