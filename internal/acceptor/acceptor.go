// Package acceptor owns the TCP listener: it accepts connections, enforces
// the registry's client-id capacity, and spawns one internal/session.Session
// per accepted peer.
package acceptor

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
	"github.com/kstaniek/battleship-server/internal/session"
)

// Sentinel errors, wrapped so callers can classify via errors.Is.
var (
	ErrListen = errors.New("acceptor: listen")
	ErrAccept = errors.New("acceptor: accept")
)

func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrAccept):
		return metrics.ErrAccept
	default:
		return metrics.ErrRegistry
	}
}

// Acceptor listens for TCP connections and registers each as a game session.
type Acceptor struct {
	mu   sync.Mutex
	addr string

	reg   *registry.Registry
	game  *game.Game
	outBuf int

	readyOnce sync.Once
	readyCh   chan struct{}

	listener net.Listener
	sessWG   sync.WaitGroup

	logger *slog.Logger

	sessionOpts []session.Option
}

// Option configures an Acceptor at construction.
type Option func(*Acceptor)

// WithListenAddr sets the TCP listen address (default ":5000").
func WithListenAddr(a string) Option { return func(s *Acceptor) { s.addr = a } }

// WithOutBufSize overrides the per-client outbound channel buffer size.
func WithOutBufSize(n int) Option {
	return func(s *Acceptor) {
		if n > 0 {
			s.outBuf = n
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Acceptor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionOptions passes through options applied to every session it
// spawns (e.g. a non-default rate limit).
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Acceptor) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

const defaultOutBuf = 64

// New constructs an Acceptor bound to the given registry and game.
func New(reg *registry.Registry, g *game.Game, opts ...Option) *Acceptor {
	a := &Acceptor{
		addr:    ":5000",
		reg:     reg,
		game:    g,
		outBuf:  defaultOutBuf,
		readyCh: make(chan struct{}),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Addr returns the listener's bound address; only meaningful after Ready
// closes.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.addr
}

// Ready closes once the listener is bound and accepting.
func (a *Acceptor) Ready() <-chan struct{} { return a.readyCh }

// Serve accepts connections until ctx is cancelled or a fatal listener error
// occurs. It blocks until every spawned session has returned.
func (a *Acceptor) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()
	a.readyOnce.Do(func() { close(a.readyCh) })
	a.logger.Info("tcp_listen", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := a.acceptOnce(ctx, ln); err != nil {
			a.sessWG.Wait()
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and, if the registry has capacity,
// registers a client and spawns its session. Returns nil on any recoverable
// per-connection outcome; a wrapped error only for a fatal listener failure.
func (a *Acceptor) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())

	cl, err := a.reg.Accept(a.outBuf)
	if err != nil {
		connLogger.Warn("client_reject_full")
		_, _ = (protocol.Codec{}).EncodeTo(conn, protocol.Frame{
			MsgType: protocol.MsgText,
			Payload: "[!] Server is full, try again later.",
		})
		_ = conn.Close()
		return nil
	}

	connLogger = connLogger.With("client_id", cl.ID)
	connLogger.Info("client_connected")

	sess := session.New(conn, cl, a.reg, a.game, append(a.sessionOpts, session.WithLogger(connLogger))...)
	a.sessWG.Add(1)
	go func() {
		defer a.sessWG.Done()
		sess.Serve(ctx)
	}()
	return nil
}

// Shutdown closes the listener; it does not forcibly close connected
// sessions (each will observe ctx cancellation from Serve's caller and
// close on its own).
func (a *Acceptor) Shutdown() error {
	a.mu.Lock()
	ln := a.listener
	a.listener = nil
	a.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}
