package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tabletop/internal/session"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage = session.Message

type joinPayload struct {
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name"`
}

type joinedPayload struct {
	PlayerID string `json:"playerId"`
}

type movePayload struct {
	Action json.RawMessage `json:"action"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	sess, ok := s.manager.Get(code)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.logger.Warn("websocket accept", zap.String("session", code), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// First message must be a join
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != session.MsgJoin {
		sendWSError(ctx, conn, "first message must be a join")
		return
	}
	var join joinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &join); err != nil {
			sendWSError(ctx, conn, "invalid join payload")
			return
		}
	}
	playerID := strings.TrimSpace(join.PlayerID)
	if playerID == "" {
		playerID = uuid.NewString()
	}

	seat, err := sess.Join(playerID, strings.TrimSpace(join.Name))
	if err != nil {
		sendWSError(ctx, conn, err.Error())
		return
	}
	log := s.logger.With(zap.String("session", code), zap.String("player", playerID))
	log.Info("websocket joined")

	// joined goes out before the writer starts so it precedes any queued state
	if err := writeWS(ctx, conn, session.MsgJoined, joinedPayload{PlayerID: playerID}); err != nil {
		sess.Leave(playerID, seat.Send)
		return
	}

	// Writer goroutine: send messages from the channel to the websocket
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-seat.Send:
				if !ok {
					// replaced by a reconnect, or the session closed
					conn.Close(websocket.StatusGoingAway, "connection replaced")
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: handle incoming messages
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.Notify(playerID, seat.Send, session.MsgError, session.ErrorPayload{Message: "invalid message"})
			continue
		}
		if err := s.handleMessage(sess, playerID, msg); err != nil {
			sess.Notify(playerID, seat.Send, session.MsgError, session.ErrorPayload{Message: err.Error()})
		}
	}

	// Player disconnected; the seat is kept once the game has started
	sess.Leave(playerID, seat.Send)
	log.Info("websocket disconnected")
}

var errMovePayload = errors.New("invalid move payload")

func (s *Server) handleMessage(sess *session.Session, playerID string, msg WSMessage) error {
	switch msg.Type {
	case session.MsgSeatRequest:
		return sess.RequestSeat(playerID)

	case session.MsgGameMove:
		var mp movePayload
		if err := json.Unmarshal(msg.Payload, &mp); err != nil || len(mp.Action) == 0 {
			return errMovePayload
		}
		return sess.Move(playerID, mp.Action)

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, msgType string, payload any) error {
	msg, err := session.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}

func sendWSError(ctx context.Context, conn *websocket.Conn, message string) {
	writeWS(ctx, conn, session.MsgError, session.ErrorPayload{Message: message})
}
