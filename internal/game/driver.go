package game

import (
	"context"
	"time"

	"github.com/kstaniek/battleship-server/internal/registry"
)

// Driver is the single game-driver loop: it polls WAIT for a second player
// and recycles an ended match back to WAIT after a short cool-down. PLACE
// and BATTLE progress is otherwise event-driven, arriving through Game's
// exported operations as sessions dispatch PLACE/FIRE frames.
type Driver struct {
	Game         *Game
	Registry     *registry.Registry
	PollInterval time.Duration
	CoolDown     time.Duration
}

// NewDriver constructs a Driver with the defaults the component design
// calls for: short polling sleeps, not busy-waiting.
func NewDriver(g *Game, reg *registry.Registry) *Driver {
	return &Driver{
		Game:         g,
		Registry:     reg,
		PollInterval: 200 * time.Millisecond,
		CoolDown:     2 * time.Second,
	}
}

// Run blocks until ctx is cancelled, polling game conditions at
// PollInterval. This is the "driver thread" the concurrency model
// describes: it never holds the game lock across a sleep.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	var endedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch d.Game.State() {
			case StateWait:
				endedAt = time.Time{}
				d.Game.TryBeginMatch()
			case StateEnd:
				if endedAt.IsZero() {
					endedAt = time.Now()
				} else if time.Since(endedAt) >= d.CoolDown {
					d.Game.Reset()
					endedAt = time.Time{}
				}
			default:
				endedAt = time.Time{}
			}
		}
	}
}
