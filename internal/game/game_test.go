package game

import (
	"testing"
	"time"

	"github.com/kstaniek/battleship-server/internal/board"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/stretchr/testify/require"
)

func drainN(t *testing.T, c *registry.Client, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		select {
		case f := <-c.Out:
			out = append(out, f.Payload)
		case <-time.After(time.Second):
			t.Fatalf("client %d: expected %d frames, got %d", c.ID, n, len(out))
		}
	}
	return out
}

func newTwoPlayerGame(t *testing.T) (*Game, *registry.Registry, *registry.Client, *registry.Client) {
	t.Helper()
	reg := registry.New()
	c0, err := reg.Accept(32)
	require.NoError(t, err)
	c1, err := reg.Accept(32)
	require.NoError(t, err)
	g := New(reg)
	g.TryBeginMatch()
	require.Equal(t, StatePlace, g.State())
	// drain the GAME STARTING broadcast + each player's hidden BOARD + PLACE prompt
	drainN(t, c0, 3)
	drainN(t, c1, 3)
	return g, reg, c0, c1
}

func placeAllShips(t *testing.T, g *Game, c *registry.Client) {
	t.Helper()
	coords := []string{"A1", "B1", "C1", "D1", "E1"}
	for _, coord := range coords {
		g.PlaceShip(c.ID, coord)
	}
}

func TestTryBeginMatch_PromotesTwoClients(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	require.Equal(t, registry.RolePlayer, c0.Role())
	require.Equal(t, registry.RolePlayer, c1.Role())
	require.Equal(t, StatePlace, g.State())
}

func TestTryBeginMatch_StaysInWaitWithOneClient(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Accept(8)
	g := New(reg)
	g.TryBeginMatch()
	require.Equal(t, StateWait, g.State())
}

func TestPlaceShip_OrientationToggleDoesNotConsumeShip(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	g.PlaceShip(c0.ID, "x")
	drainN(t, c0, 2) // hidden BOARD + re-prompt for the same (first) ship
	g.PlaceShip(c0.ID, "A1")
	// both players are excluded from the spectator "PLAYER PLACED" broadcast
	// (no other clients are registered), so c0 only sees its BOARD + next-ship prompt.
	drainN(t, c0, 2)
	require.Equal(t, StatePlace, g.State())
	_ = c1
}

func TestPlaceShip_RejectsOverlapAndReprompts(t *testing.T) {
	g, _, c0, _ := newTwoPlayerGame(t)
	g.PlaceShip(c0.ID, "A1")
	drainN(t, c0, 2) // hidden BOARD + next ship prompt
	g.PlaceShip(c0.ID, "A1")
	msgs := drainN(t, c0, 3) // hidden BOARD, cannot-place text, re-prompt
	require.Contains(t, msgs[1], "Cannot place")
}

func TestPlaceShip_AllFiveTransitionsToBattle(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	placeAllShips(t, g, c1)
	require.Equal(t, StateBattle, g.State())
}

func TestFire_OutOfTurnDoesNotCallFireAt(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	placeAllShips(t, g, c1)

	active := g.players[g.turn]
	inactive := g.players[1-g.turn]
	var inactiveClient *registry.Client
	if inactive.Client.ID == c0.ID {
		inactiveClient = c0
	} else {
		inactiveClient = c1
	}
	before := inactive.Board.DisplayGrid()
	// discard the placement and battle-start frames already queued
	for len(inactiveClient.Out) > 0 {
		<-inactiveClient.Out
	}

	g.Fire(inactiveClient.ID, "A1")
	msg := <-inactiveClient.Out
	require.Contains(t, msg.Payload, "Fired out turn")
	require.Equal(t, before, inactive.Board.DisplayGrid())
	_ = active
}

func TestFire_HitThenMissAlternatesTurn(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	placeAllShips(t, g, c1)

	firer := g.players[g.turn].Client
	turnBefore := g.turn
	g.Fire(firer.ID, "A1") // guaranteed hit: placeAllShips puts the Carrier at A1-A5
	require.NotEqual(t, turnBefore, g.turn)

	firer = g.players[g.turn].Client
	g.Fire(firer.ID, "J10") // guaranteed miss: placeAllShips only occupies rows A-E, columns 1-5
	require.Equal(t, turnBefore, g.turn)
}

func TestDisconnect_DuringBattlePausesAndArmsGrace(t *testing.T) {
	g, reg, c0, c1 := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	placeAllShips(t, g, c1)

	g.Disconnect(c0)
	require.Equal(t, StatePause, g.State())
	require.True(t, g.grace.Active())
	reg.Remove(c0)
}

func TestConnect_ReconnectRestoresPreviousState(t *testing.T) {
	g, reg, c0, c1 := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	placeAllShips(t, g, c1)
	c0.SetUsername("alice")

	g.Disconnect(c0)
	require.Equal(t, StatePause, g.State())

	newConn, err := reg.Accept(32)
	require.NoError(t, err)
	g.Connect(newConn, "alice")
	require.Equal(t, StateBattle, g.State())
	_ = c1
}

func TestGraceExpire_EndsGameWhenNoReconnect(t *testing.T) {
	g, _, c0, _ := newTwoPlayerGame(t)
	placeAllShips(t, g, c0)
	g.mu.Lock()
	g.players[1].ShipsPlaced = len(board.Ships) - 1
	g.mu.Unlock()
	g.Disconnect(c0)
	require.Equal(t, StatePause, g.State())
	g.graceExpire()
	require.Equal(t, StateEnd, g.State())
}

func TestReset_ReturnsToWaitAndDemotesPlayers(t *testing.T) {
	g, _, c0, c1 := newTwoPlayerGame(t)
	g.mu.Lock()
	g.state = StateEnd
	g.mu.Unlock()
	g.Reset()
	require.Equal(t, StateWait, g.State())
	require.Equal(t, registry.RoleSpectator, c0.Role())
	require.Equal(t, registry.RoleSpectator, c1.Role())
}
