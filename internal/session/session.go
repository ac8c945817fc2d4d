// Package session owns one peer's transport handle: it assembles frames
// from stream bytes, drives that peer's reliability engine, dispatches
// application messages to the game, enforces a per-player idle timeout,
// and serializes every outbound write so frames leave the server in
// sequence order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/battleship-server/internal/game"
	"github.com/kstaniek/battleship-server/internal/logging"
	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/kstaniek/battleship-server/internal/timers"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sentinel errors, wrapped so callers can classify via errors.Is.
var (
	ErrConnRead  = errors.New("session: conn read")
	ErrConnWrite = errors.New("session: conn write")
)

func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrConnRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrConnWrite
	default:
		return metrics.ErrDispatch
	}
}

// Option configures a Session at construction.
type Option func(*Session)

// WithRateLimit overrides the default per-peer inbound frame rate limit.
func WithRateLimit(framesPerSec float64, burst int) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(rate.Limit(framesPerSec), burst) }
}

// WithLogger overrides the package logger for this session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is one connected peer's protocol-core state.
type Session struct {
	conn net.Conn

	Client *registry.Client
	reg    *registry.Registry
	game   *game.Game

	limiter *rate.Limiter
	idle    *timers.Timer

	writeMu sync.Mutex

	nextDueMu sync.Mutex
	nextDue   map[uint16]time.Time

	disconnectOnce sync.Once

	logger *slog.Logger
}

const (
	defaultRateLimit = 100.0 // frames/sec
	defaultBurst     = 200
)

// New constructs a Session for an already-registered client.
func New(conn net.Conn, cl *registry.Client, reg *registry.Registry, g *game.Game, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		Client:  cl,
		reg:     reg,
		game:    g,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		idle:    timers.New(),
		nextDue: make(map[uint16]time.Time),
		logger:  logging.L().With("client_id", cl.ID),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve runs the session to completion: it sends the server-assigned id as
// a CONNECT frame (the session protocol's identity handshake — there is no
// magic-string exchange here, unlike a binary-transport codec negotiation),
// then runs the reader, writer and retransmit loops until any one exits,
// cancelling the others via ctx.
func (s *Session) Serve(ctx context.Context) {
	if err := s.sendApplication(protocol.Frame{
		MsgType: protocol.MsgConnect,
		Payload: fmt.Sprintf("%d", s.Client.ID),
	}); err != nil {
		s.logger.Warn("identify_send_failed", "error", err)
		s.handleDisconnect()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.retransmitLoop(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("session_ended", "error", err)
	}
	s.handleDisconnect()
}

func (s *Session) writeFrameLocked(f protocol.Frame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := (protocol.Codec{}).EncodeTo(s.conn, f); err != nil {
		return fmt.Errorf("%w: %v", ErrConnWrite, err)
	}
	metrics.AddFramesTx(1)
	return nil
}

// handleDisconnect is the single cleanup path for transport failure, idle
// timeout and an explicit DISCONNECT frame. Idempotent.
func (s *Session) handleDisconnect() {
	s.disconnectOnce.Do(func() {
		s.idle.Stop()
		_ = s.conn.Close()
		s.game.Disconnect(s.Client)
		s.reg.Remove(s.Client)
		s.logger.Info("session_closed")
	})
}
