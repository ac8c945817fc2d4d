package game

import "fmt"

// Message text mirrors the wording the session protocol core's reference
// implementation sends over TEXT/RESULT frames, so a human player at either
// end of the wire sees the same prompts and announcements.

func orientationLabel(o orientation) string {
	if o == vertical {
		return "vertically"
	}
	return "horizontally"
}

func msgPlacePrompt(shipName string, shipSize int, o orientation) string {
	return fmt.Sprintf("Place %s (Size: %d) %s. Enter 'x' to change orientation.",
		shipName, shipSize, orientationLabel(o))
}

func msgInvalidCoordinate(err error) string {
	return fmt.Sprintf("[!] Invalid coordinate: %s", err)
}

func msgCannotPlace(shipName, coords string, o orientation) string {
	return fmt.Sprintf("[!] Cannot place %s at %s (orientation=%s). Try again.", shipName, coords, orientationLabel(o))
}

func msgPlayerPlaced(id uint8, shipName string) string {
	return fmt.Sprintf("PLAYER %d PLACED THEIR %s", id, shipName)
}

const msgAllPlaced = "All ships placed. Waiting for opponent..."

func msgWaitingRoom(n int) string {
	return fmt.Sprintf("Waiting for game to start... Clients connected [%d/2]", n)
}

const (
	msgBattleStarting = "BATTLE STARTING"
	msgGameStarting   = "GAME STARTING"
	msgWaitingOpp     = "Waiting for opponent..."
	msgSpectator      = "YOU ARE A SPECTATOR"
	msgGameOver       = "GAME OVER"
	msgYouWin         = "YOU WIN!!!"
	msgYouLose        = "You lose"
)

func msgWonInMoves(moves int) string {
	return fmt.Sprintf("You won in %d moves!", moves)
}

func msgGameOverWinner(id uint8) string {
	return fmt.Sprintf("GAME OVER! PLAYER %d WINS!", id)
}

func msgFirePrompt(id uint8) string {
	return fmt.Sprintf("PLAYER %d FIRING\nEnter coordinate to fire at (e.g. B5): ", id)
}

const msgOutOfTurn = "Fired out turn, command ignored. Waiting for opponent to fire..."
const msgRepeat = "REPEAT You've already fired at that location."

func msgHitSank(ship string) string {
	return fmt.Sprintf("HIT You sank the %s!", ship)
}

func msgOpponentHitSank(coords, sunk string) string {
	return fmt.Sprintf("OPPONENT HIT %s! Opponent sunk your %s!", coords, sunk)
}

const msgHit = "HIT"

func msgOpponentHit(coords string) string {
	return fmt.Sprintf("OPPONENT HIT %s!", coords)
}

const msgMiss = "MISS"
const msgOpponentMissed = "OPPONENT MISSED"

func msgSpectatorHit(firerID, opponentID uint8, coords, sunk string) string {
	if sunk != "" {
		return fmt.Sprintf("PLAYER %d FIRED AT %s AND HIT! PLAYER %d SANK PLAYER %d's %s!",
			firerID, coords, firerID, opponentID, sunk)
	}
	return fmt.Sprintf("PLAYER %d FIRED AT %s AND HIT!", firerID, coords)
}

func msgSpectatorMiss(id uint8, coords string) string {
	return fmt.Sprintf("PLAYER %d FIRED AT %s AND MISSED!", id, coords)
}

func msgDisconnectedWaiting(id uint8) string {
	return fmt.Sprintf("[INFO] player [%d] has disconnected, waiting for reconnect", id)
}
