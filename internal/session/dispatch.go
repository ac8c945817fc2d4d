package session

import (
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/registry"
)

// dispatch applies the msg_type routing rules from the session protocol
// core before any game-level handling: CHAT always broadcasts, CONNECT
// identifies or reconnects, DISCONNECT tears the session down, TEXT is
// display-only, and PLACE/FIRE require both the right role and the right
// game phase or they get an explanatory reply instead of mutating state.
func (s *Session) dispatch(f protocol.Frame) {
	switch f.MsgType {
	case protocol.MsgChat:
		s.game.Chat(s.Client, f.Payload)

	case protocol.MsgConnect:
		s.game.Connect(s.Client, f.Payload)

	case protocol.MsgDisconnect:
		go s.handleDisconnect()

	case protocol.MsgText:
		// display-only; no server action.

	case protocol.MsgPlace:
		if s.Client.Role() != registry.RolePlayer {
			s.Client.Send(protocol.Frame{MsgType: protocol.MsgText, Payload: "[!] Only players place ships."})
			return
		}
		s.game.PlaceShip(s.Client.ID, f.Payload)

	case protocol.MsgFire:
		if s.Client.Role() != registry.RolePlayer {
			s.Client.Send(protocol.Frame{MsgType: protocol.MsgText, Payload: "[!] Only players fire."})
			return
		}
		s.game.Fire(s.Client.ID, f.Payload)

	case protocol.MsgBoard, protocol.MsgResult:
		// server-originated kinds; ignore if a peer sends them inbound.
	}
}
