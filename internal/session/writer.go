package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/timers"
)

// writeLoop drains application frames the game/dispatcher queued on the
// client's outbound channel, assigns each one its send sequence, and writes
// it to the wire. Sequencing and the write happen under the same lock
// (writeMu) so frames leave the server in the order they were sequenced.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.Client.Out:
			if err := s.sendApplication(f); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				return wrap
			}
		case <-s.Client.Closed:
			return errors.New("session: client closed")
		}
	}
}

// sendApplication assigns a send sequence to f and writes it, holding
// writeMu across both steps so a concurrent retransmit or control write
// cannot land on the wire between sequencing and transmission.
func (s *Session) sendApplication(f protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	f.SenderID = 0
	seqFrame := s.Client.Channel.PrepareSend(f)
	s.nextDueMu.Lock()
	s.nextDue[seqFrame.Seq] = time.Now().Add(timers.RetransmitInitial)
	s.nextDueMu.Unlock()
	return s.writeFrameLocked(seqFrame)
}
