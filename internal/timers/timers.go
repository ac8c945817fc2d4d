// Package timers implements the cancellable, idempotent deadline timers the
// session protocol core needs: a per-player idle timeout and a per-game
// disconnect grace window. Both are built as a single reusable primitive —
// a rearmable timer guarded by a generation token — rather than the
// one-thread-per-timer model the source used, per the redesign called for
// in spec.md's Timer service and Redesign Flags sections.
package timers

import (
	"sync"
	"time"
)

// Timer is a cancellable, rearmable single-shot deadline. Zero value is not
// usable; construct with New.
//
// Rearming (Reset) before expiry invalidates the previous countdown: only
// the most recent arming can fire its callback. This is what "idempotent"
// and "cancellable" mean for the idle timer a session arms on every frame
// received and the grace timer the game arms on every PAUSE entry.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// New constructs a Timer with nothing armed.
func New() *Timer { return &Timer{} }

// Reset (re)arms the timer to fire fn after d, cancelling any previously
// scheduled firing. Safe to call from multiple goroutines and safe to call
// repeatedly before expiry — each call supersedes the last.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current := t.gen == gen
		if current {
			t.timer = nil
		}
		t.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Stop cancels any pending firing. Safe to call even if nothing is armed,
// and safe to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++ // invalidate any in-flight firing that already passed the Stop race
}

// Active reports whether a firing is currently scheduled and has not yet
// been superseded or stopped. Intended for tests and diagnostics; the
// driver itself should not need to poll this.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Defaults match the values spec.md's Timer service and Retransmission
// sections recommend. These are variables, not constants, so cmd/
// main wiring can apply configured overrides once at startup before any
// session or game is constructed; nothing in this package mutates them
// afterward.
var (
	// IdleTimeout is how long a PLAYER may go without sending a frame
	// before the session treats them as disconnected.
	IdleTimeout = 30 * time.Second

	// GraceWindow is how long a game stays PAUSEd waiting for a
	// disconnected player's username to reconnect before ending.
	GraceWindow = 30 * time.Second

	// RetransmitInitial and RetransmitMax bound the reliability engine's
	// exponential backoff for frames that remain unacked.
	RetransmitInitial = 500 * time.Millisecond
	RetransmitMax     = 5 * time.Second
)
