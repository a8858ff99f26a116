package peer

import (
	"testing"
	"time"

	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

func testAddr() phy.Addr { return phy.Addr{IP: 0x0a000001, Port: 9000} }

func TestSequenceMonotonic(t *testing.T) {
	c := NewConn(testAddr())
	var last uint32
	for i := 0; i < 5; i++ {
		s := c.NextSendSeq()
		if s <= last {
			t.Fatalf("sequence number did not increase: %d <= %d", s, last)
		}
		last = s
	}
}

func TestDiscoveryRequiresProbe(t *testing.T) {
	c := NewConn(testAddr())
	if c.State != Undiscovered {
		t.Fatal("new conn must start undiscovered")
	}
	c.OnSendProbe()
	if c.State != DiscoveryRequested {
		t.Fatalf("got %v", c.State)
	}
	c.OnRecvProbeAck()
	if c.State != Discovered {
		t.Fatalf("got %v", c.State)
	}
}

func TestSimultaneousOpenTieBreak(t *testing.T) {
	c := NewConn(testAddr())
	c.OnSendProbe()
	if c.State != DiscoveryRequested {
		t.Fatal("expected discovery_requested")
	}
	c.OnRecvProbe()
	if c.State != Discovered {
		t.Fatalf("got %v", c.State)
	}
}

func TestOutOfOrderRejection(t *testing.T) {
	c := NewConn(testAddr())
	c.AcceptRecv(wire.TypePublish, 10)

	if dup, ooo := c.CheckSequence(7); dup || !ooo {
		t.Errorf("seq 7 after 10 should be out of order, got dup=%v ooo=%v", dup, ooo)
	}
	if c.LastRecvSeqN != 10 {
		t.Errorf("out-of-order packet must not alter last_recv_seq_n, got %d", c.LastRecvSeqN)
	}
}

func TestDuplicateAllowedForRetry(t *testing.T) {
	c := NewConn(testAddr())
	c.AcceptRecv(wire.TypeHeartbeat, 5)

	dup, ooo := c.CheckSequence(5)
	if !dup || ooo {
		t.Errorf("seq equal to last accepted should be a duplicate, got dup=%v ooo=%v", dup, ooo)
	}
}

func TestAcceptsTypeTable(t *testing.T) {
	c := NewConn(testAddr())

	if !c.AcceptsType(wire.TypeProbe) {
		t.Error("undiscovered should accept probe")
	}
	if c.AcceptsType(wire.TypeHeartbeat) {
		t.Error("undiscovered should reject heartbeat")
	}

	c.OnSendProbe()
	if !c.AcceptsType(wire.TypeProbeAck) {
		t.Error("discovery_requested should accept probe_ack")
	}
	if c.AcceptsType(wire.TypeHeartbeat) {
		t.Error("discovery_requested should reject heartbeat")
	}

	c.OnRecvProbeAck()
	c.LastSentPacketType = wire.TypeHeartbeat
	if !c.AcceptsType(wire.TypeHeartbeatAck) {
		t.Error("discovered should accept ack matching last sent packet type")
	}
	if c.AcceptsType(wire.TypeSubscribeAck) {
		t.Error("discovered should reject ack not matching last sent packet type")
	}
	if !c.AcceptsType(wire.TypePublish) {
		t.Error("discovered should accept any normal packet")
	}
	if !c.AcceptsType(wire.TypeHeartbeatNack) {
		t.Error("discovered should accept any nack")
	}
}

func TestArmAckFiresOnTimeout(t *testing.T) {
	c := NewConn(testAddr())
	done := make(chan struct{})
	c.ArmAck(wire.KindHeartbeat, 1, []byte("payload"), time.Millisecond*10, func() {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout handler never fired")
	}
}

func TestDisarmAckCancelsTimer(t *testing.T) {
	c := NewConn(testAddr())
	fired := false
	c.ArmAck(wire.KindHeartbeat, 1, nil, time.Millisecond*20, func() { fired = true })
	c.DisarmAck(wire.KindHeartbeat)
	time.Sleep(time.Millisecond * 40)
	if fired {
		t.Error("disarmed timer should not fire")
	}
}

func TestNackBudgetExhaustion(t *testing.T) {
	c := NewConn(testAddr())
	for i := 0; i < MaxNacks; i++ {
		if c.RegisterNack(wire.KindHeartbeat) {
			t.Fatalf("budget exhausted too early at iteration %d", i)
		}
	}
	if !c.RegisterNack(wire.KindHeartbeat) {
		t.Error("expected budget exhausted after MaxNacks+1 nacks")
	}
}
