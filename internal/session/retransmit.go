package session

import (
	"context"
	"time"

	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/timers"
)

// retransmitLoop periodically resends any DATA frame still unacknowledged
// past its due time, backing off exponentially per-frame from
// timers.RetransmitInitial up to timers.RetransmitMax. The source relies on
// NACK-driven resends only; this adds the timer spec.md's retransmission
// section recommends.
func (s *Session) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(timers.RetransmitInitial / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.retransmitDue(now)
		}
	}
}

func (s *Session) retransmitDue(now time.Time) {
	outstanding := s.Client.Channel.PeekUnacked()

	s.nextDueMu.Lock()
	defer s.nextDueMu.Unlock()

	live := make(map[uint16]struct{}, len(outstanding))
	for _, f := range outstanding {
		live[f.Seq] = struct{}{}
		due, armed := s.nextDue[f.Seq]
		if !armed {
			s.nextDue[f.Seq] = now.Add(timers.RetransmitInitial)
			continue
		}
		if now.Before(due) {
			continue
		}
		_ = s.sendRetransmit(f)
		attempts := s.Client.Channel.NoteRetransmit(f.Seq)
		backoff := timers.RetransmitInitial << attempts
		if backoff > timers.RetransmitMax || backoff <= 0 {
			backoff = timers.RetransmitMax
		}
		s.nextDue[f.Seq] = now.Add(backoff)
	}
	for seq := range s.nextDue {
		if _, ok := live[seq]; !ok {
			delete(s.nextDue, seq)
		}
	}
}

func (s *Session) sendRetransmit(f protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeFrameLocked(f)
}
