package session

import (
	"encoding/json"

	"tabletop/internal/game"
)

// Client message types.
const (
	MsgJoin        = "join"
	MsgSeatRequest = "match-seat-request"
	MsgGameMove    = "game-move"
)

// Server message types.
const (
	MsgJoined      = "joined"
	MsgState       = "state"
	MsgGameStarted = "game-started"
	MsgGameEnded   = "game-ended"
	MsgError       = "error"
)

// Message is the JSON envelope exchanged with clients.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatePayload carries one observer's view.
type StatePayload struct {
	State       game.View `json:"state"`
	SessionInfo Info      `json:"sessionInfo"`
}

// GameEndedPayload carries the final result.
type GameEndedPayload struct {
	Result *game.Result `json:"result"`
}

// ErrorPayload reports a rejected request to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds an envelope for payload.
func Encode(msgType string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: p})
}

// send queues a message without blocking; a full queue drops it.
func send(ch chan []byte, msgType string, payload any) {
	msg, err := Encode(msgType, payload)
	if err != nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
