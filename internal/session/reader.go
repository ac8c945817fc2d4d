package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/kstaniek/battleship-server/internal/reliability"
	"github.com/kstaniek/battleship-server/internal/timers"
)

const readChunk = protocol.MaxFrame

// readLoop repeatedly reads stream bytes, feeds them through the
// reliability engine, transmits any ACK/NACK controls it produces, and
// dispatches delivered application frames.
func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.onBytes(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			return wrap
		}
	}
}

func (s *Session) onBytes(data []byte) {
	in := s.Client.Channel.Feed(data, s.onAck, s.onNack)
	for _, c := range in.Controls {
		_ = s.sendRawControl(c)
	}
	for _, f := range in.Deliver {
		if !s.limiter.Allow() {
			metrics.IncRateLimited()
			continue
		}
		metrics.IncFramesRx()
		s.resetIdleIfPlayer()
		s.dispatch(f)
	}
}

func (s *Session) onAck(seq uint16) { s.Client.Channel.HandleAck(seq) }

func (s *Session) onNack() {
	for _, f := range s.Client.Channel.HandleNack() {
		_ = s.sendRetransmit(f)
	}
}

func (s *Session) sendRawControl(c reliability.Control) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if c.Type == protocol.PacketNack {
		metrics.IncNackSent()
	} else {
		metrics.IncAckSent()
	}
	return s.writeFrameLocked(protocol.Frame{Seq: c.Seq, PacketType: c.Type, SenderID: s.Client.ID})
}

func (s *Session) resetIdleIfPlayer() {
	if s.Client.Role() != registry.RolePlayer {
		return
	}
	s.idle.Reset(timers.IdleTimeout, func() {
		metrics.IncIdleTimeout()
		s.logger.Info("idle_timeout")
		s.handleDisconnect()
	})
}
