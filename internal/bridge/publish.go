package bridge

import (
	"time"

	"github.com/octopus-mq/octopusmq/internal/peer"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// publishHeaderOverhead accounts for the packet header plus the publish
// body's fixed fields (publication_id, total_blocks, block_n) ahead of the
// repeated messages.
const publishHeaderOverhead = wire.HeaderSize + 4 + 4 + 4

// subUnsubHeaderOverhead accounts for the packet header plus the shared
// subscribe/unsubscribe body's fixed fields ahead of the hash/name arrays.
const subUnsubHeaderOverhead = wire.HeaderSize + 4 + 4 + 4 + 4 + 4

func estimateMessageSize(m wire.PublishedMessage) int {
	return 4 + 2 + 1 + len(m.Topic) + 1 + len(m.OriginClientID) + 1 + 4 + len(m.Payload)
}

// flushTimerC exposes the batch timer's channel, or nil (which blocks
// forever in a select) when no batch is pending.
func (s *Server) flushTimerC() <-chan time.Time {
	if s.batchTimer == nil {
		return nil
	}
	return s.batchTimer.C
}

// enqueuePublish appends msg to the pending outgoing batch, flushing first if
// appending it would exceed the MTU bound (§4.6).
func (s *Server) enqueuePublish(msg PublishedMessage) {
	wm := wire.PublishedMessage{
		OriginIP:       s.cfg.Interface.IP,
		OriginPort:     s.cfg.Port,
		QoS:            msg.QoS,
		Topic:          msg.Topic,
		OriginClientID: msg.OriginClientID,
		Payload:        msg.Payload,
	}

	size := publishHeaderOverhead
	for _, m := range s.outbox {
		size += estimateMessageSize(m)
	}
	if len(s.outbox) > 0 && size+estimateMessageSize(wm) > MaxDatagramSize {
		s.flushPublishBatch()
	}

	s.outbox = append(s.outbox, wm)
	if s.batchTimer == nil {
		s.batchTimer = time.NewTimer(s.cfg.Timeouts.Delay)
	}
}

// flushPublishBatch splits the pending batch into MTU-bounded blocks and
// sends them, reliably, to every discovered peer.
func (s *Server) flushPublishBatch() {
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	if len(s.outbox) == 0 {
		return
	}
	batch := s.outbox
	s.outbox = nil

	s.publicationSeq++
	pubID := s.publicationSeq
	blocks := splitPublishBlocks(batch)
	total := uint32(len(blocks))

	for _, conn := range s.peers {
		if conn.State != peer.Discovered {
			continue
		}
		for i, block := range blocks {
			blockN := uint32(i)
			msgs := block
			build := func(seq uint32) []byte {
				return wire.NewPublish(seq, pubID, total, blockN, msgs).Payload()
			}
			s.sendReliable(conn, wire.KindPublish, build)
		}
	}
}

// splitPublishBlocks greedily packs msgs into MTU-bounded blocks.
func splitPublishBlocks(msgs []wire.PublishedMessage) [][]wire.PublishedMessage {
	var blocks [][]wire.PublishedMessage
	var cur []wire.PublishedMessage
	size := publishHeaderOverhead
	for _, m := range msgs {
		ms := estimateMessageSize(m)
		if len(cur) > 0 && size+ms > MaxDatagramSize {
			blocks = append(blocks, cur)
			cur = nil
			size = publishHeaderOverhead
		}
		cur = append(cur, m)
		size += ms
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	if len(blocks) == 0 {
		blocks = [][]wire.PublishedMessage{{}}
	}
	return blocks
}

type subUnsubBlock struct {
	hashes []uint64
	names  []string
}

// splitSubscriptionBlocks greedily packs a subscription batch's hash and name
// arrays into MTU-bounded blocks.
func splitSubscriptionBlocks(hashes []uint64, names []string) []subUnsubBlock {
	var blocks []subUnsubBlock
	var cur subUnsubBlock
	size := subUnsubHeaderOverhead
	for _, h := range hashes {
		if size+8 > MaxDatagramSize {
			blocks = append(blocks, cur)
			cur = subUnsubBlock{}
			size = subUnsubHeaderOverhead
		}
		cur.hashes = append(cur.hashes, h)
		size += 8
	}
	for _, n := range names {
		ns := len(n) + 1
		if size+ns > MaxDatagramSize {
			blocks = append(blocks, cur)
			cur = subUnsubBlock{}
			size = subUnsubHeaderOverhead
		}
		cur.names = append(cur.names, n)
		size += ns
	}
	if len(cur.hashes) > 0 || len(cur.names) > 0 || len(blocks) == 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// sendSubUnsub broadcasts subs, as either subscribe or unsubscribe packets,
// to every discovered peer.
func (s *Server) sendSubUnsub(subs []wire.Subscription, kind wire.Kind) {
	hashes, names := wire.SplitSubscriptions(subs)
	blocks := splitSubscriptionBlocks(hashes, names)
	total := uint32(len(blocks))

	s.subscriptionSeq++
	subID := s.subscriptionSeq

	for _, conn := range s.peers {
		if conn.State != peer.Discovered {
			continue
		}
		for i, block := range blocks {
			blockN := uint32(i)
			h, n := block.hashes, block.names
			build := func(seq uint32) []byte {
				if kind == wire.KindUnsubscribe {
					return wire.NewUnsubscribe(seq, subID, total, blockN, h, n).Payload()
				}
				return wire.NewSubscribe(seq, subID, total, blockN, h, n).Payload()
			}
			s.sendReliable(conn, kind, build)
		}
	}
}
