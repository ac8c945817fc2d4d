// Package reliability implements the per-peer sliding-window reliability
// layer: sequencing, acknowledgement, negative acknowledgement, duplicate
// suppression and out-of-order reassembly on top of the protocol frame
// codec.
package reliability

import (
	"container/heap"
	"sync"

	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
)

// seqLess reports whether a precedes b in modulo-2^16 sequence space, using
// a half-window (signed 16-bit) comparison. This is the only comparison that
// behaves correctly across wraparound; a naive unsigned comparison breaks
// once seq wraps past 65535.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

type pending struct {
	seq   uint16
	frame protocol.Frame
}

// unackedHeap orders outbound frames awaiting acknowledgement by seq.
type unackedHeap []pending

func (h unackedHeap) Len() int            { return len(h) }
func (h unackedHeap) Less(i, j int) bool  { return seqLess(h[i].seq, h[j].seq) }
func (h unackedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *unackedHeap) Push(x interface{}) { *h = append(*h, x.(pending)) }
func (h *unackedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// reorderHeap orders inbound DATA frames received ahead of recvSeq.
type reorderHeap []pending

func (h reorderHeap) Len() int            { return len(h) }
func (h reorderHeap) Less(i, j int) bool  { return seqLess(h[i].seq, h[j].seq) }
func (h reorderHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *reorderHeap) Push(x interface{}) { *h = append(*h, x.(pending)) }
func (h *reorderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Control is an outbound ACK or NACK the caller must transmit.
type Control struct {
	Type protocol.PacketType
	Seq  uint16
}

// PeerChannel is the per-connection reliability state described by the
// session protocol core: send/recv sequence counters, the unacknowledged
// send window, the out-of-order receive window and the stream ingestion
// buffer.
type PeerChannel struct {
	mu sync.Mutex

	sendSeq uint16
	recvSeq uint16

	unacked unackedHeap
	reorder reorderHeap

	ingestBuf []byte

	// retransmitAttempts counts, per outstanding seq, how many times a
	// frame has been resent; used by the timer-driven backoff in the
	// session layer.
	retransmitAttempts map[uint16]int
}

// New constructs a PeerChannel with fresh sequence counters.
func New() *PeerChannel {
	pc := &PeerChannel{retransmitAttempts: make(map[uint16]int)}
	heap.Init(&pc.unacked)
	heap.Init(&pc.reorder)
	return pc
}

// PrepareSend assigns the next send_seq to f, records it in the unacked
// window, and returns the sequenced frame ready for encoding. Control
// frames (ACK/NACK) must not go through PrepareSend; they carry only an
// informational seq and are never retransmitted.
func (p *PeerChannel) PrepareSend(f protocol.Frame) protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.PacketType = protocol.PacketData
	f.Seq = p.sendSeq
	heap.Push(&p.unacked, pending{seq: f.Seq, frame: f})
	p.sendSeq++
	return f
}

// HandleAck pops every unacked entry whose seq is < a+1 (modulo 2^16).
func (p *PeerChannel) HandleAck(a uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bound := a + 1
	for p.unacked.Len() > 0 && (p.unacked[0].seq == a || seqLess(p.unacked[0].seq, bound)) {
		item := heap.Pop(&p.unacked).(pending)
		delete(p.retransmitAttempts, item.seq)
	}
}

// HandleNack returns every currently unacked frame, oldest first, for
// immediate retransmission without reassigning sequence numbers.
func (p *PeerChannel) HandleNack() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.snapshotUnackedLocked()
	out := make([]protocol.Frame, len(items))
	for i, it := range items {
		out[i] = it.frame
		metrics.IncRetransmit()
	}
	return out
}

// Unacked returns a snapshot of currently outstanding frames, oldest first,
// and records that every one of them is being retransmitted now. Intended
// for callers that are about to actually put all of them back on the wire
// (a NACK handler or a per-round retransmit sweep); use PeekUnacked if you
// only need to inspect what's outstanding without counting a retransmit.
func (p *PeerChannel) Unacked() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.snapshotUnackedLocked()
	out := make([]protocol.Frame, len(items))
	for i, it := range items {
		out[i] = it.frame
		p.retransmitAttempts[it.seq]++
		metrics.IncRetransmit()
	}
	return out
}

// PeekUnacked returns the same oldest-first snapshot as Unacked but without
// incrementing retransmit counters, for callers deciding per-frame whether
// a retransmit is due yet.
func (p *PeerChannel) PeekUnacked() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.snapshotUnackedLocked()
	out := make([]protocol.Frame, len(items))
	for i, it := range items {
		out[i] = it.frame
	}
	return out
}

func (p *PeerChannel) snapshotUnackedLocked() []pending {
	items := make([]pending, len(p.unacked))
	copy(items, p.unacked)
	// container/heap's internal slice order is heap order, not sequence
	// order; sort a copy so "oldest first" is seq order as the spec
	// requires, without disturbing the live heap.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && seqLess(items[j].seq, items[j-1].seq); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	return items
}

// NoteRetransmit records that the frame with seq was just retransmitted,
// for exponential backoff scheduling, and returns the updated attempt count.
func (p *PeerChannel) NoteRetransmit(seq uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retransmitAttempts[seq]++
	metrics.IncRetransmit()
	return p.retransmitAttempts[seq]
}

// RetransmitAttempts reports how many times the frame with seq has been
// resent since it was last (re)armed, for exponential backoff scheduling.
func (p *PeerChannel) RetransmitAttempts(seq uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retransmitAttempts[seq]
}

// Inbound is the result of feeding one decoded DATA frame into the engine.
type Inbound struct {
	// Deliver holds application frames now ready for dispatch, in strictly
	// increasing sequence order: the just-accepted frame (if any) followed
	// by any now-contiguous frames drained from the reorder window.
	Deliver []protocol.Frame
	// Controls holds ACK/NACK frames the caller must transmit in reply.
	Controls []Control
}

// Accept applies the inbound sequencing rule from the reliability engine to
// one decoded DATA frame.
func (p *PeerChannel) Accept(f protocol.Frame) Inbound {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out Inbound
	switch {
	case f.Seq != p.recvSeq && seqLess(f.Seq, p.recvSeq):
		// Duplicate: discard, re-ACK recv_seq-1 as a cumulative ack.
		metrics.IncDuplicate()
		out.Controls = append(out.Controls, Control{Type: protocol.PacketAck, Seq: p.recvSeq - 1})
	case f.Seq != p.recvSeq:
		// Future frame: buffer for later, ACK the still-expected seq.
		heap.Push(&p.reorder, pending{seq: f.Seq, frame: f})
		out.Controls = append(out.Controls, Control{Type: protocol.PacketAck, Seq: p.recvSeq})
	default:
		out.Deliver = append(out.Deliver, f)
		p.recvSeq++
		for p.reorder.Len() > 0 && p.reorder[0].seq == p.recvSeq {
			next := heap.Pop(&p.reorder).(pending)
			out.Deliver = append(out.Deliver, next.frame)
			p.recvSeq++
		}
		out.Controls = append(out.Controls, Control{Type: protocol.PacketAck, Seq: p.recvSeq - 1})
	}
	return out
}

// Feed appends newly read transport bytes to the ingest buffer, decodes as
// many complete frames as are available, and routes DATA frames through
// Accept. ACK/NACK frames are reported separately via the acks/nacks
// callbacks so the session can apply them to its own outbound state.
//
// On a checksum mismatch the ingest buffer is cleared entirely (the stream
// is resynchronized at the next frame boundary the peer sends after
// receiving our NACK) and a NACK is appended to the returned Inbound's
// Controls.
func (p *PeerChannel) Feed(data []byte, onAck func(seq uint16), onNack func()) Inbound {
	p.mu.Lock()
	p.ingestBuf = append(p.ingestBuf, data...)
	buf := p.ingestBuf
	p.mu.Unlock()

	var out Inbound
	consumed, err := protocol.DecodeN(buf, func(f protocol.Frame) {
		switch f.PacketType {
		case protocol.PacketAck:
			if onAck != nil {
				onAck(f.Seq)
			}
		case protocol.PacketNack:
			if onNack != nil {
				onNack()
			}
		default:
			in := p.Accept(f)
			out.Deliver = append(out.Deliver, in.Deliver...)
			out.Controls = append(out.Controls, in.Controls...)
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.ingestBuf = nil
		out.Controls = append(out.Controls, Control{Type: protocol.PacketNack, Seq: p.recvSeq})
		return out
	}
	p.ingestBuf = append([]byte(nil), p.ingestBuf[consumed:]...)
	return out
}

// RecvSeq reports the next in-order sequence expected from the peer.
func (p *PeerChannel) RecvSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recvSeq
}

// SendSeq reports the next sequence that will be assigned to an outbound
// DATA frame.
func (p *PeerChannel) SendSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendSeq
}
