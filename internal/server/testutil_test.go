package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"

	"tabletop/internal/game"
	"tabletop/internal/game/tictactoe"
	"tabletop/internal/session"
	"tabletop/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts  *httptest.Server
	mgr *session.Manager
	reg *game.Registry
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	reg := game.NewRegistry()
	reg.Register(tictactoe.TicTacToe{})
	mgr := session.NewManager(reg, store, session.Options{Logger: logger})

	webFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html><body>test</body></html>")},
	}
	srv := New(reg, mgr, webFS, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(mgr.Shutdown)

	return &testEnv{ts: ts, mgr: mgr, reg: reg}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

func createSessionViaAPI(t *testing.T, ts *httptest.Server, body string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var result createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return result.Code
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, code string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/sessions/" + code + "/ws"
}

// wsConnect dials a WebSocket, sends a join message and waits for the
// joined reply. Returns the connection and the assigned player id.
func wsConnect(t *testing.T, ts *httptest.Server, code, playerID string) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, code), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	wsSend(ctx, t, conn, session.MsgJoin, joinPayload{PlayerID: playerID, Name: playerID})
	msg := wsRead(ctx, t, conn)
	if msg.Type != session.MsgJoined {
		t.Fatalf("expected joined, got %q: %s", msg.Type, string(msg.Payload))
	}
	var joined joinedPayload
	if err := json.Unmarshal(msg.Payload, &joined); err != nil {
		t.Fatalf("unmarshal joined: %v", err)
	}
	return conn, joined.PlayerID
}

// wsSend marshals and writes a typed message, calling t.Fatal on error.
func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := session.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("marshal ws message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads and unmarshals a WebSocket message, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readUntil skips messages until one of msgType arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	for {
		msg := wsRead(ctx, t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

// readError skips to the next error message and returns its text.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	msg := readUntil(ctx, t, conn, session.MsgError)
	var ep session.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return ep.Message
}

// wireState is a state message as a client decodes it.
type wireState struct {
	State struct {
		Actions     []tictactoe.Action `json:"actions"`
		CurrentTurn *game.Player       `json:"currentTurn"`
		Players     []*game.Player     `json:"players"`
		Moves       []game.Move        `json:"moves"`
		Result      *game.Result       `json:"result"`
	} `json:"state"`
	SessionInfo session.Info `json:"sessionInfo"`
}

func readState(ctx context.Context, t *testing.T, conn *websocket.Conn) wireState {
	t.Helper()
	msg := readUntil(ctx, t, conn, session.MsgState)
	var ws wireState
	if err := json.Unmarshal(msg.Payload, &ws); err != nil {
		t.Fatalf("unmarshal state payload: %v", err)
	}
	return ws
}

// --- Game helpers ---

// startGame joins alice and bob and requests both seats.
func startGame(t *testing.T, env *testEnv) (code string, conns map[string]*websocket.Conn) {
	t.Helper()
	code = createSessionViaAPI(t, env.ts, `{"gameType":"tictactoe"}`)
	alice, _ := wsConnect(t, env.ts, code, "alice")
	bob, _ := wsConnect(t, env.ts, code, "bob")

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	wsSend(ctx, t, alice, session.MsgSeatRequest, struct{}{})
	wsSend(ctx, t, bob, session.MsgSeatRequest, struct{}{})
	readUntil(ctx, t, alice, session.MsgGameStarted)
	readUntil(ctx, t, bob, session.MsgGameStarted)
	return code, map[string]*websocket.Conn{"alice": alice, "bob": bob}
}

// playMoves sends each position from whoever holds the turn and waits for
// the session to apply it.
func playMoves(t *testing.T, env *testEnv, code string, conns map[string]*websocket.Conn, positions ...tictactoe.Position) {
	t.Helper()
	sess, ok := env.mgr.Get(code)
	if !ok {
		t.Fatalf("session %s not found", code)
	}
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	for i, pos := range positions {
		turn := sess.View("").CurrentTurn
		if turn == nil {
			t.Fatalf("no turn holder before move %d", i)
		}
		action := fmt.Sprintf(`{"role":%q,"position":%q}`, turn.Role, pos)
		wsSend(ctx, t, conns[turn.ID], session.MsgGameMove, movePayload{Action: json.RawMessage(action)})
		waitFor(t, func() bool { return len(sess.View("").Moves) == i+1 })
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func containsPlayer(players []string, id string) bool {
	for _, p := range players {
		if p == id {
			return true
		}
	}
	return false
}
