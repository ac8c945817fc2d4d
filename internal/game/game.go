// Package game implements the single authoritative game state machine: the
// WAIT/PLACE/BATTLE/END states with a PAUSE superposition, player slot
// assignment, ship placement, turn-based firing, spectator broadcast, and
// disconnect/reconnect handling. It depends on internal/board for ship
// legality and fire resolution and on internal/registry for the client set,
// but never calls back into a client session directly — every effect is
// expressed as an outbound frame the caller is responsible for delivering,
// so no transport I/O is done while the game lock is held. The game lock
// is held around registry snapshots and client role/username updates.
package game

import (
	"sync"

	"github.com/kstaniek/battleship-server/internal/board"
	"github.com/kstaniek/battleship-server/internal/logging"
	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/kstaniek/battleship-server/internal/timers"
)

// State is one of the five phases the match can be in.
type State int

const (
	StateWait State = iota
	StatePlace
	StateBattle
	StateEnd
	StatePause
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "WAIT"
	case StatePlace:
		return "PLACE"
	case StateBattle:
		return "BATTLE"
	case StateEnd:
		return "END"
	case StatePause:
		return "PAUSE"
	default:
		return "UNKNOWN"
	}
}

type orientation = board.Orientation

const (
	horizontal = board.Horizontal
	vertical   = board.Vertical
)

// Player is the game-side role binding for one of the two match slots.
type Player struct {
	Slot        int
	Board       *board.Board
	ShipsPlaced int
	Orientation orientation
	Moves       int
	Client      *registry.Client // nil while this slot's occupant is disconnected
}

type disconnected struct {
	slot     int
	username string
}

// action is an effect a Game operation wants delivered; building the list
// under the game lock and sending it after release keeps I/O off the lock.
type action struct {
	to      *registry.Client // nil => broadcast
	skip    []uint8          // ids to exclude from a broadcast
	msgType protocol.MessageType
	expect  protocol.MessageType
	payload string
}

func toClient(c *registry.Client, mt protocol.MessageType, payload string) action {
	return action{to: c, msgType: mt, payload: payload}
}

func toClientExpect(c *registry.Client, mt, expect protocol.MessageType, payload string) action {
	return action{to: c, msgType: mt, expect: expect, payload: payload}
}

func broadcast(mt protocol.MessageType, payload string, skip ...uint8) action {
	return action{msgType: mt, payload: payload, skip: skip}
}

// boardActions returns the BOARD frame(s) for one board view: always the
// direct send to c, plus a spectator copy whenever the match is in BATTLE
// (placement boards are never shown to spectators).
func (g *Game) boardActions(c *registry.Client, grid string) []action {
	acts := []action{toClientExpect(c, protocol.MsgBoard, protocol.MsgPlace, grid)}
	if g.state == StateBattle {
		acts = append(acts, action{msgType: protocol.MsgBoard, expect: protocol.MsgChat, payload: grid, skip: g.spectatorSkip()})
	}
	return acts
}

// Game is the single authoritative match instance.
type Game struct {
	mu sync.Mutex

	state         State
	previousState State

	players [2]*Player
	turn    int

	disc *disconnected

	gameNumber int

	reg   *registry.Registry
	grace *timers.Timer
}

// New constructs a Game bound to the given registry, starting in WAIT.
func New(reg *registry.Registry) *Game {
	return &Game{
		state: StateWait,
		reg:   reg,
		grace: timers.New(),
	}
}

// State returns the current phase (for diagnostics and tests).
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// dispatch delivers actions computed under the game lock. Must be called
// without the game lock held.
func dispatch(reg *registry.Registry, actions []action) {
	for _, a := range actions {
		f := protocol.Frame{MsgType: a.msgType, ExpectedType: a.expect, Payload: a.payload}
		if a.to != nil {
			a.to.Send(f)
			continue
		}
		reg.Broadcast(f, a.skip...)
	}
}

// send is dispatch bound to the game's registry, used by Game operations
// and by the grace-timer callback once the game lock is released.
func (g *Game) send(actions []action) { dispatch(g.reg, actions) }

// TryBeginMatch promotes two spectators to players and advances WAIT->PLACE
// once at least two clients are connected. Player slots rotate across
// matches using game_number so the same two clients do not always play
// each other when more than two are connected.
func (g *Game) TryBeginMatch() {
	g.mu.Lock()
	if g.state != StateWait {
		g.mu.Unlock()
		return
	}
	clients := g.reg.Snapshot()
	if len(clients) < 2 {
		g.mu.Unlock()
		g.send([]action{broadcast(protocol.MsgText, msgWaitingRoom(len(clients)))})
		return
	}
	n := len(clients)
	p0 := (2 * g.gameNumber) % n
	p1 := (p0 + 1) % n
	g.gameNumber++

	c0, c1 := clients[p0], clients[p1]
	c0.SetRole(registry.RolePlayer)
	c1.SetRole(registry.RolePlayer)
	g.players[0] = &Player{Slot: 0, Board: board.New(), Client: c0}
	g.players[1] = &Player{Slot: 1, Board: board.New(), Client: c1}
	g.state = StatePlace

	acts := []action{broadcast(protocol.MsgText, msgGameStarting)}
	acts = append(acts, g.boardActions(c0, g.players[0].Board.HiddenGrid())...)
	acts = append(acts, toClientExpect(c0, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(board.Ships[0].Name, board.Ships[0].Size, g.players[0].Orientation)))
	acts = append(acts, g.boardActions(c1, g.players[1].Board.HiddenGrid())...)
	acts = append(acts, toClientExpect(c1, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(board.Ships[0].Name, board.Ships[0].Size, g.players[1].Orientation)))
	for _, cl := range clients {
		if cl.ID != c0.ID && cl.ID != c1.ID {
			acts = append(acts, toClient(cl, protocol.MsgText, msgSpectator))
		}
	}
	g.mu.Unlock()
	logging.L().Info("match_started", "game_number", g.gameNumber-1, "p0", c0.ID, "p1", c1.ID)
	g.send(acts)
}

func (g *Game) playerByClientID(id uint8) *Player {
	for _, p := range g.players {
		if p != nil && p.Client != nil && p.Client.ID == id {
			return p
		}
	}
	return nil
}

func (g *Game) spectatorSkip() []uint8 {
	skip := make([]uint8, 0, 2)
	for _, p := range g.players {
		if p != nil && p.Client != nil {
			skip = append(skip, p.Client.ID)
		}
	}
	return skip
}

// Chat broadcasts a CHAT payload to every other connected client, prefixed
// with the sender's username. Accepted in any state.
func (g *Game) Chat(from *registry.Client, text string) {
	dispatch(g.reg, []action{broadcast(protocol.MsgChat, "["+from.Username()+"]: "+text, from.ID)})
}

// Connect handles a peer-originated CONNECT asserting a username. If it
// matches a disconnected player's stored username, this reattaches that
// player's slot to the new session and resumes the paused match.
func (g *Game) Connect(cl *registry.Client, username string) {
	cl.SetUsername(username)

	g.mu.Lock()
	if g.state != StatePause || g.disc == nil || g.disc.username != username {
		g.mu.Unlock()
		return
	}
	slot := g.disc.slot
	g.disc = nil
	cl.SetRole(registry.RolePlayer)
	g.players[slot].Client = cl
	g.grace.Stop()
	g.state = g.previousState

	var acts []action
	switch g.state {
	case StatePlace:
		for _, p := range g.players {
			acts = append(acts, g.boardActions(p.Client, p.Board.HiddenGrid())...)
			if p.ShipsPlaced < len(board.Ships) {
				ship := board.Ships[p.ShipsPlaced]
				acts = append(acts, toClientExpect(p.Client, protocol.MsgText, protocol.MsgPlace,
					msgPlacePrompt(ship.Name, ship.Size, p.Orientation)))
			} else {
				acts = append(acts, toClient(p.Client, protocol.MsgText, msgAllPlaced))
			}
		}
	case StateBattle:
		for i, p := range g.players {
			if i == g.turn {
				opp := g.players[1-i]
				acts = append(acts, g.boardActions(p.Client, opp.Board.DisplayGrid())...)
				acts = append(acts, toClientExpect(p.Client, protocol.MsgText, protocol.MsgFire, msgFirePrompt(p.Client.ID)))
			} else {
				acts = append(acts, toClient(p.Client, protocol.MsgText, msgWaitingOpp))
			}
		}
	}
	acts = append(acts, broadcast(protocol.MsgText, "player "+username+" reconnected", g.spectatorSkip()...))
	g.mu.Unlock()

	metrics.IncReconnect()
	logging.L().Info("player_reconnected", "client_id", cl.ID, "slot", slot)
	g.send(acts)
}

// PlaceShip advances the placement ritual for one player: "x"/"X" toggles
// orientation, anything else is parsed as a coordinate for the next ship
// in the fixed SHIPS sequence.
func (g *Game) PlaceShip(clientID uint8, payload string) {
	g.mu.Lock()
	if g.state != StatePlace {
		state := g.state
		p := g.playerByClientID(clientID)
		g.mu.Unlock()
		if p != nil {
			g.send([]action{toClient(p.Client, protocol.MsgText, "[!] Can't place ships right now, game is "+state.String())})
		}
		return
	}
	p := g.playerByClientID(clientID)
	if p == nil || p.ShipsPlaced >= len(board.Ships) {
		g.mu.Unlock()
		return
	}
	ship := board.Ships[p.ShipsPlaced]

	if payload == "X" || payload == "x" {
		if p.Orientation == horizontal {
			p.Orientation = vertical
		} else {
			p.Orientation = horizontal
		}
		acts := g.boardActions(p.Client, p.Board.HiddenGrid())
		acts = append(acts, toClientExpect(p.Client, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(ship.Name, ship.Size, p.Orientation)))
		g.mu.Unlock()
		g.send(acts)
		return
	}

	row, col, err := board.ParseCoordinate(payload)
	if err != nil {
		acts := g.boardActions(p.Client, p.Board.HiddenGrid())
		acts = append(acts,
			toClient(p.Client, protocol.MsgText, msgInvalidCoordinate(err)),
			toClientExpect(p.Client, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(ship.Name, ship.Size, p.Orientation)))
		g.mu.Unlock()
		g.send(acts)
		return
	}
	if !p.Board.CanPlaceShip(row, col, ship.Size, p.Orientation) {
		acts := g.boardActions(p.Client, p.Board.HiddenGrid())
		acts = append(acts,
			toClient(p.Client, protocol.MsgText, msgCannotPlace(ship.Name, payload, p.Orientation)),
			toClientExpect(p.Client, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(ship.Name, ship.Size, p.Orientation)))
		g.mu.Unlock()
		g.send(acts)
		return
	}

	p.Board.DoPlaceShip(row, col, ship.Size, p.Orientation, ship.Name)
	p.ShipsPlaced++

	acts := []action{broadcast(protocol.MsgText, msgPlayerPlaced(p.Client.ID, ship.Name), g.spectatorSkip()...)}
	acts = append(acts, g.boardActions(p.Client, p.Board.HiddenGrid())...)
	if p.ShipsPlaced < len(board.Ships) {
		next := board.Ships[p.ShipsPlaced]
		acts = append(acts, toClientExpect(p.Client, protocol.MsgText, protocol.MsgPlace, msgPlacePrompt(next.Name, next.Size, p.Orientation)))
	} else {
		acts = append(acts, toClient(p.Client, protocol.MsgText, msgAllPlaced))
	}

	if g.players[0].ShipsPlaced == len(board.Ships) && g.players[1].ShipsPlaced == len(board.Ships) {
		g.state = StateBattle
		g.turn = 0
		acts = append(acts, broadcast(protocol.MsgText, msgBattleStarting))
		for i, pl := range g.players {
			if i == g.turn {
				opp := g.players[1-i]
				acts = append(acts, g.boardActions(pl.Client, opp.Board.DisplayGrid())...)
				acts = append(acts, toClientExpect(pl.Client, protocol.MsgText, protocol.MsgFire, msgFirePrompt(pl.Client.ID)))
			} else {
				acts = append(acts, toClient(pl.Client, protocol.MsgText, msgWaitingOpp))
			}
		}
	}
	g.mu.Unlock()
	g.send(acts)
}

// Fire validates and resolves a FIRE frame. Per the turn-integrity
// invariant, board.FireAt is only ever called when clientID matches the
// currently active player.
func (g *Game) Fire(clientID uint8, payload string) {
	g.mu.Lock()
	if g.state != StateBattle {
		state := g.state
		p := g.playerByClientID(clientID)
		g.mu.Unlock()
		if p != nil {
			g.send([]action{toClient(p.Client, protocol.MsgText, "[!] Can't fire right now, game is "+state.String())})
		}
		return
	}
	active := g.players[g.turn]
	if active.Client == nil || active.Client.ID != clientID {
		if p := g.playerByClientID(clientID); p != nil {
			acts := []action{toClient(p.Client, protocol.MsgText, msgOutOfTurn)}
			g.mu.Unlock()
			g.send(acts)
			return
		}
		g.mu.Unlock()
		return
	}
	opponent := g.players[1-g.turn]

	if payload == "QUIT" {
		g.state = StateEnd
		acts := []action{
			toClient(active.Client, protocol.MsgText, msgGameOver+"\n"+msgYouLose),
			toClient(opponent.Client, protocol.MsgText, msgGameOver+"\n"+msgYouWin),
			broadcast(protocol.MsgText, msgGameOverWinner(opponent.Client.ID), g.spectatorSkip()...),
		}
		g.mu.Unlock()
		metrics.IncGameCompleted()
		g.send(acts)
		return
	}

	row, col, err := board.ParseCoordinate(payload)
	if err != nil {
		acts := []action{toClient(active.Client, protocol.MsgText, msgInvalidCoordinate(err))}
		acts = append(acts, g.boardActions(active.Client, opponent.Board.DisplayGrid())...)
		acts = append(acts, toClientExpect(active.Client, protocol.MsgText, protocol.MsgFire, msgFirePrompt(active.Client.ID)))
		g.mu.Unlock()
		g.send(acts)
		return
	}

	result := opponent.Board.FireAt(row, col)
	if result.AlreadyShot {
		acts := []action{toClientExpect(active.Client, protocol.MsgResult, protocol.MsgFire, msgRepeat)}
		acts = append(acts, g.boardActions(active.Client, opponent.Board.DisplayGrid())...)
		acts = append(acts, toClientExpect(active.Client, protocol.MsgText, protocol.MsgFire, msgFirePrompt(active.Client.ID)))
		g.mu.Unlock()
		g.send(acts)
		return
	}

	active.Moves++
	metrics.IncTurn()

	acts := g.boardActions(active.Client, opponent.Board.DisplayGrid())
	if result.Hit {
		if result.SunkShip != "" {
			acts = append(acts, toClient(active.Client, protocol.MsgResult, msgHitSank(result.SunkShip)))
			acts = append(acts, toClient(opponent.Client, protocol.MsgResult, msgOpponentHitSank(payload, result.SunkShip)))
		} else {
			acts = append(acts, toClient(active.Client, protocol.MsgResult, msgHit))
			acts = append(acts, toClient(opponent.Client, protocol.MsgResult, msgOpponentHit(payload)))
		}
		oppID := uint8(0)
		if opponent.Client != nil {
			oppID = opponent.Client.ID
		}
		acts = append(acts, broadcast(protocol.MsgText, msgSpectatorHit(active.Client.ID, oppID, payload, result.SunkShip), g.spectatorSkip()...))
	} else {
		acts = append(acts, toClient(active.Client, protocol.MsgResult, msgMiss))
		acts = append(acts, toClient(opponent.Client, protocol.MsgResult, msgOpponentMissed))
		acts = append(acts, broadcast(protocol.MsgText, msgSpectatorMiss(active.Client.ID, payload), g.spectatorSkip()...))
	}

	if opponent.Board.AllShipsSunk() {
		g.state = StateEnd
		acts = append(acts,
			toClient(active.Client, protocol.MsgText, msgGameOver+"\n"+msgYouWin+"\n"+msgWonInMoves(active.Moves)),
			toClient(opponent.Client, protocol.MsgText, msgGameOver+"\n"+msgYouLose),
			broadcast(protocol.MsgText, msgGameOverWinner(active.Client.ID), g.spectatorSkip()...),
		)
		g.mu.Unlock()
		metrics.IncGameCompleted()
		g.send(acts)
		return
	}

	g.turn = 1 - g.turn
	nextActive := g.players[g.turn]
	nextOpponent := g.players[1-g.turn]
	acts = append(acts, g.boardActions(nextActive.Client, nextOpponent.Board.DisplayGrid())...)
	acts = append(acts,
		toClientExpect(nextActive.Client, protocol.MsgText, protocol.MsgFire, msgFirePrompt(nextActive.Client.ID)),
		toClient(nextOpponent.Client, protocol.MsgText, msgWaitingOpp),
	)
	g.mu.Unlock()
	g.send(acts)
}

// Disconnect handles the loss of a client's session. Spectators are simply
// gone; a player's disconnect during PLACE or BATTLE pauses the match and
// arms the reconnect grace window.
func (g *Game) Disconnect(cl *registry.Client) {
	g.mu.Lock()
	p := g.playerByClientID(cl.ID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	if g.state != StatePlace && g.state != StateBattle && g.state != StatePause {
		g.mu.Unlock()
		return
	}

	p.Client = nil
	username := cl.Username()

	if g.state == StatePause {
		// second disconnect while already paused: end immediately.
		g.state = StateEnd
		acts := []action{broadcast(protocol.MsgText, msgGameOver)}
		g.mu.Unlock()
		metrics.IncGameCompleted()
		g.send(acts)
		return
	}

	g.previousState = g.state
	g.state = StatePause
	g.disc = &disconnected{slot: p.Slot, username: username}
	g.grace.Reset(timers.GraceWindow, func() { g.graceExpire() })

	acts := []action{broadcast(protocol.MsgText, msgDisconnectedWaiting(cl.ID))}
	g.mu.Unlock()
	logging.L().Warn("player_disconnected", "client_id", cl.ID, "slot", p.Slot)
	g.send(acts)
}

func (g *Game) graceExpire() {
	g.mu.Lock()
	if g.state != StatePause {
		g.mu.Unlock()
		return
	}
	g.state = StateEnd
	g.disc = nil
	acts := []action{broadcast(protocol.MsgText, msgGameOver)}
	g.mu.Unlock()
	metrics.IncGraceExpiration()
	metrics.IncGameCompleted()
	logging.L().Info("grace_expired")
	g.send(acts)
}

// Reset returns an ended match to WAIT, demoting both former players back
// to spectator role so the next TryBeginMatch call can rotate a fresh pair
// in from the full connected set.
func (g *Game) Reset() {
	g.mu.Lock()
	if g.state != StateEnd {
		g.mu.Unlock()
		return
	}
	for _, p := range g.players {
		if p != nil && p.Client != nil {
			p.Client.SetRole(registry.RoleSpectator)
		}
	}
	g.players[0] = nil
	g.players[1] = nil
	g.turn = 0
	g.disc = nil
	g.grace.Stop()
	g.state = StateWait
	g.mu.Unlock()
}
