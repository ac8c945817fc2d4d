package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/battleship-server/internal/game"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, net.Conn, *registry.Registry) {
	t.Helper()
	serverConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = serverConn.Close(); _ = peerConn.Close() })

	reg := registry.New()
	cl, err := reg.Accept(32)
	require.NoError(t, err)
	g := game.New(reg)
	s := New(serverConn, cl, reg, g)
	return s, peerConn, reg
}

func readFrame(t *testing.T, conn net.Conn) protocol.Frame {
	t.Helper()
	buf := make([]byte, protocol.MaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	f, _, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	return f
}

func writeFrame(t *testing.T, conn net.Conn, f protocol.Frame) {
	t.Helper()
	_, err := (protocol.Codec{}).EncodeTo(conn, f)
	require.NoError(t, err)
}

func TestServe_SendsIdentityConnectFrameFirst(t *testing.T) {
	s, peer, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Serve(ctx); close(done) }()

	f := readFrame(t, peer)
	require.Equal(t, protocol.MsgConnect, f.MsgType)
	require.Equal(t, "1", f.Payload)

	cancel()
	_ = peer.Close()
	<-done
}

func TestDispatch_ChatBroadcastsToOtherClients(t *testing.T) {
	s, peer, reg := newTestSession(t)
	other, err := reg.Accept(8)
	require.NoError(t, err)
	other.SetUsername("bob")
	s.Client.SetUsername("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { s.Serve(ctx); close(done) }()
	readFrame(t, peer) // identity CONNECT

	chat := s.Client.Channel.PrepareSend(protocol.Frame{MsgType: protocol.MsgChat, Payload: "hello"})
	writeFrame(t, peer, chat)
	readFrame(t, peer) // the ACK our frame elicits

	select {
	case f := <-other.Out:
		require.Equal(t, "[alice]: hello", f.Payload)
	case <-time.After(time.Second):
		t.Fatalf("chat was not broadcast to other client")
	}

	cancel()
	_ = peer.Close()
	<-done
}

func TestHandleDisconnect_IsIdempotent(t *testing.T) {
	s, peer, _ := newTestSession(t)
	_ = peer.Close()
	s.handleDisconnect()
	s.handleDisconnect() // must not panic or double-release
}

func TestRetransmitDue_ResendsAfterInitialWindowAndBacksOff(t *testing.T) {
	s, peer, _ := newTestSession(t)
	go func() {
		buf := make([]byte, protocol.MaxFrame)
		for {
			_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()

	f := s.Client.Channel.PrepareSend(protocol.Frame{MsgType: protocol.MsgText, Payload: "x"})
	s.nextDueMu.Lock()
	s.nextDue[f.Seq] = time.Now().Add(-time.Millisecond) // force immediately due
	s.nextDueMu.Unlock()

	require.Equal(t, 0, s.Client.Channel.RetransmitAttempts(f.Seq))
	s.retransmitDue(time.Now())
	require.Equal(t, 1, s.Client.Channel.RetransmitAttempts(f.Seq))

	s.nextDueMu.Lock()
	due := s.nextDue[f.Seq]
	s.nextDueMu.Unlock()
	require.True(t, due.After(time.Now()))
}
