package reliability

import (
	"testing"

	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/stretchr/testify/require"
)

func dataFrame(seq uint16, payload string) protocol.Frame {
	return protocol.Frame{Seq: seq, PacketType: protocol.PacketData, MsgType: protocol.MsgFire, Payload: payload}
}

func TestAccept_InOrderDelivers(t *testing.T) {
	pc := New()
	in := pc.Accept(dataFrame(0, "A1"))
	require.Equal(t, []protocol.Frame{dataFrame(0, "A1")}, in.Deliver)
	require.Equal(t, uint16(1), pc.RecvSeq())
}

func TestAccept_OutOfOrderThenGapFill(t *testing.T) {
	pc := New()
	// seq 1 arrives before seq 0: buffered, not delivered yet.
	in1 := pc.Accept(dataFrame(1, "second"))
	require.Empty(t, in1.Deliver)
	require.Equal(t, []Control{{Type: protocol.PacketAck, Seq: 0}}, in1.Controls)

	// seq 0 arrives: both 0 and 1 deliver in order.
	in0 := pc.Accept(dataFrame(0, "first"))
	require.Equal(t, []protocol.Frame{dataFrame(0, "first"), dataFrame(1, "second")}, in0.Deliver)
	require.Equal(t, uint16(2), pc.RecvSeq())
}

func TestAccept_DuplicateIsDiscarded(t *testing.T) {
	pc := New()
	pc.Accept(dataFrame(0, "A1"))
	in := pc.Accept(dataFrame(0, "A1"))
	require.Empty(t, in.Deliver)
	require.Equal(t, []Control{{Type: protocol.PacketAck, Seq: 0}}, in.Controls)
}

func TestPrepareSend_AssignsIncreasingSeq(t *testing.T) {
	pc := New()
	f0 := pc.PrepareSend(protocol.Frame{MsgType: protocol.MsgResult, Payload: "HIT"})
	f1 := pc.PrepareSend(protocol.Frame{MsgType: protocol.MsgResult, Payload: "MISS"})
	require.Equal(t, uint16(0), f0.Seq)
	require.Equal(t, uint16(1), f1.Seq)
	require.Len(t, pc.Unacked(), 2)
}

func TestHandleAck_ClearsCoveredEntries(t *testing.T) {
	pc := New()
	pc.PrepareSend(protocol.Frame{Payload: "a"})
	pc.PrepareSend(protocol.Frame{Payload: "b"})
	pc.PrepareSend(protocol.Frame{Payload: "c"})
	pc.HandleAck(1)
	remaining := pc.Unacked()
	require.Len(t, remaining, 1)
	require.Equal(t, uint16(2), remaining[0].Seq)
}

func TestHandleNack_ReturnsAllUnackedOldestFirst(t *testing.T) {
	pc := New()
	pc.PrepareSend(protocol.Frame{Payload: "a"})
	pc.PrepareSend(protocol.Frame{Payload: "b"})
	resend := pc.HandleNack()
	require.Len(t, resend, 2)
	require.Equal(t, uint16(0), resend[0].Seq)
	require.Equal(t, uint16(1), resend[1].Seq)
}

func TestSeqWraparound_HalfWindowComparison(t *testing.T) {
	require.True(t, seqLess(65535, 0))
	require.False(t, seqLess(0, 65535))
	require.True(t, seqLess(0, 100))
	require.False(t, seqLess(100, 0))
}

func TestFeed_ChecksumMismatchClearsBufferAndNacks(t *testing.T) {
	pc := New()
	wire := protocol.Codec{}.Encode(dataFrame(0, "A1"))
	wire[len(wire)-1] ^= 0xFF
	in := pc.Feed(wire, nil, nil)
	require.Empty(t, in.Deliver)
	require.Len(t, in.Controls, 1)
	require.Equal(t, protocol.PacketNack, in.Controls[0].Type)
}

func TestFeed_MultipleFramesAcrossReads(t *testing.T) {
	pc := New()
	wire := protocol.Codec{}.Encode(dataFrame(0, "A1"))
	half := wire[:5]
	rest := wire[5:]
	in1 := pc.Feed(half, nil, nil)
	require.Empty(t, in1.Deliver)
	in2 := pc.Feed(rest, nil, nil)
	require.Equal(t, []protocol.Frame{dataFrame(0, "A1")}, in2.Deliver)
}

func TestFeed_RoutesAckAndNackToCallbacks(t *testing.T) {
	pc := New()
	var ackedSeq uint16
	var acked, nacked bool
	ackFrame := protocol.Frame{Seq: 9, PacketType: protocol.PacketAck}
	nackFrame := protocol.Frame{Seq: 0, PacketType: protocol.PacketNack}
	wire := append(protocol.Codec{}.Encode(ackFrame), protocol.Codec{}.Encode(nackFrame)...)
	pc.Feed(wire, func(s uint16) { acked = true; ackedSeq = s }, func() { nacked = true })
	require.True(t, acked)
	require.Equal(t, uint16(9), ackedSeq)
	require.True(t, nacked)
}
