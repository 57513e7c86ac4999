package tictactoe

import (
	"encoding/json"
	"maps"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop/internal/game"
	"tabletop/internal/timer"
)

type testMatch struct {
	*Engine
	mock  *clock.Mock
	sched *timer.Scheduler
}

// newTestMatch sets up an engine where p1 plays X unless keepOrder is false.
func newTestMatch(t *testing.T, keepOrder bool, options string) *testMatch {
	t.Helper()
	e := New(DefaultOptions)
	e.coin = func() bool { return keepOrder }
	mock := clock.NewMock()
	sched := timer.NewScheduler(mock)
	settings := game.Settings{
		Players: []*game.Player{game.NewPlayer("p1", "P1"), game.NewPlayer("p2", "P2")},
	}
	if options != "" {
		settings.Options = json.RawMessage(options)
	}
	require.NoError(t, e.Setup(&game.Context{Timers: sched}, settings))
	return &testMatch{Engine: e, mock: mock, sched: sched}
}

// play places the turn holder's mark at each position in order.
func (m *testMatch) play(t *testing.T, positions ...Position) {
	t.Helper()
	for _, pos := range positions {
		turn := m.CurrentTurn()
		require.NotNil(t, turn, "no turn before %s", pos)
		require.NoError(t, m.Move(turn, Action{Role: Role(turn.Role), Position: pos}), "move %s", pos)
	}
}

type snapshot struct {
	moves   int
	table   map[Position]Role
	turn    *game.Player
	result  *game.Result
	actions []Action
}

func (m *testMatch) snapshot() snapshot {
	return snapshot{
		moves:   len(m.Moves()),
		table:   maps.Clone(m.Board().Table),
		turn:    m.CurrentTurn(),
		result:  m.Result(),
		actions: m.Board().Legal(),
	}
}

func TestGameInfo(t *testing.T) {
	g := TicTacToe{}
	info := g.Info()
	if info.Name != "tictactoe" {
		t.Fatalf("expected name tictactoe, got %s", info.Name)
	}
	if info.MinPlayers != 2 || info.MaxPlayers != 2 {
		t.Fatalf("expected 2 players, got min=%d max=%d", info.MinPlayers, info.MaxPlayers)
	}
	e := g.NewEngine()
	if e.Started() || e.MaxPlayers() != 2 {
		t.Fatalf("expected a fresh 2-player engine")
	}
}

func TestSetup(t *testing.T) {
	m := newTestMatch(t, true, "")

	assert.Len(t, m.Players(), 2)
	require.NotNil(t, m.CurrentTurn())
	assert.Equal(t, "p1", m.CurrentTurn().ID)
	assert.Equal(t, "X", m.CurrentTurn().Role)
	assert.Len(t, m.Area().Actions(), 9)
	assert.Nil(t, m.Result())
	for _, a := range m.Board().Legal() {
		assert.Equal(t, RoleX, a.Role)
	}
	assert.True(t, m.Clock("p1").Running())
	assert.False(t, m.Clock("p2").Running())
	assert.Equal(t, game.TimeDuration{Minutes: 1}, m.Players()[0].RemainingTime)
}

func TestSetupSwappedRoles(t *testing.T) {
	m := newTestMatch(t, false, "")

	assert.Equal(t, "O", m.Players()[0].Role)
	assert.Equal(t, "X", m.Players()[1].Role)
	assert.Equal(t, "p2", m.CurrentTurn().ID)
	// roster keeps join order
	assert.Equal(t, "p1", m.Players()[0].ID)
}

func TestRoleAssignmentIsUnbiased(t *testing.T) {
	xFirst := 0
	const runs = 2000
	for i := 0; i < runs; i++ {
		e := New(DefaultOptions)
		err := e.Setup(&game.Context{Timers: timer.NewScheduler(clock.NewMock())}, game.Settings{
			Players: []*game.Player{game.NewPlayer("p1", "P1"), game.NewPlayer("p2", "P2")},
		})
		require.NoError(t, err)
		roles := map[string]bool{e.Players()[0].Role: true, e.Players()[1].Role: true}
		require.True(t, roles["X"] && roles["O"])
		if e.Players()[0].Role == "X" {
			xFirst++
		}
	}
	assert.InDelta(t, runs/2, xFirst, runs*0.1)
}

func TestSetupRejectsBadRosters(t *testing.T) {
	ctx := &game.Context{Timers: timer.NewScheduler(clock.NewMock())}
	cases := map[string][]*game.Player{
		"one":       {game.NewPlayer("p1", "P1")},
		"three":     {game.NewPlayer("p1", "P1"), game.NewPlayer("p2", "P2"), game.NewPlayer("p3", "P3")},
		"duplicate": {game.NewPlayer("p1", "P1"), game.NewPlayer("p1", "P1")},
		"nil":       {game.NewPlayer("p1", "P1"), nil},
	}
	for name, players := range cases {
		t.Run(name, func(t *testing.T) {
			e := New(DefaultOptions)
			err := e.Setup(ctx, game.Settings{Players: players})
			assert.ErrorIs(t, err, game.ErrInvalidSettings)
			assert.False(t, e.Started())
			assert.Empty(t, e.Players())
		})
	}
}

func TestSetupRejectsMissingTimers(t *testing.T) {
	e := New(DefaultOptions)
	err := e.Setup(&game.Context{}, game.Settings{
		Players: []*game.Player{game.NewPlayer("p1", "P1"), game.NewPlayer("p2", "P2")},
	})
	assert.ErrorIs(t, err, game.ErrInvalidSettings)
}

func TestSetupRejectsBadOptions(t *testing.T) {
	ctx := &game.Context{Timers: timer.NewScheduler(clock.NewMock())}
	players := []*game.Player{game.NewPlayer("p1", "P1"), game.NewPlayer("p2", "P2")}
	for _, raw := range []string{
		`{"initialMs":-1}`,
		`[1,2]`,
		`{"initialMs":10000,"maximumMs":5000}`,
		`{"initialMs":120000}`,
	} {
		e := New(DefaultOptions)
		err := e.Setup(ctx, game.Settings{Players: players, Options: json.RawMessage(raw)})
		assert.ErrorIs(t, err, game.ErrInvalidSettings, raw)
	}
}

func TestSetupMaximumEqualToInitial(t *testing.T) {
	m := newTestMatch(t, true, `{"initialMs":5000,"incrementMs":1000,"maximumMs":5000}`)
	m.play(t, B2)
	assert.Equal(t, 5*time.Second, m.Clock("p1").Remaining())
}

func TestMoveBeforeSetup(t *testing.T) {
	e := New(DefaultOptions)
	err := e.Move(game.NewPlayer("p1", "P1"), Action{Role: RoleX, Position: B2})
	assert.ErrorIs(t, err, game.ErrNotReady)
}

func TestFirstMoveCenter(t *testing.T) {
	m := newTestMatch(t, true, "")
	m.play(t, B2)

	assert.Len(t, m.Moves(), 1)
	assert.Equal(t, "b2", m.Moves()[0].Notation)
	assert.Equal(t, "p1", m.Moves()[0].Player.ID)
	assert.Equal(t, RoleX, m.Board().Table[B2])

	legal := m.Board().Legal()
	assert.Len(t, legal, 8)
	for _, a := range legal {
		assert.Equal(t, RoleO, a.Role)
		assert.NotEqual(t, B2, a.Position)
	}
	assert.Equal(t, "p2", m.CurrentTurn().ID)
	assert.Nil(t, m.Result())
	assert.False(t, m.Clock("p1").Running())
	assert.True(t, m.Clock("p2").Running())
}

func TestTopRowWin(t *testing.T) {
	m := newTestMatch(t, true, "")
	m.play(t, A1, B1, A2, B2, A3)

	require.NotNil(t, m.Result())
	assert.False(t, m.Result().Draw)
	assert.Equal(t, "p1", m.Result().Winner.ID)
	assert.Equal(t, "X", m.Result().Winner.Role)
	assert.Nil(t, m.CurrentTurn())
	assert.Empty(t, m.Area().Actions())
	assert.False(t, m.Clock("p1").Running())
	assert.False(t, m.Clock("p2").Running())
}

func TestWinForSecondRole(t *testing.T) {
	m := newTestMatch(t, false, "")
	// X is p2; O (p1) completes the diagonal a3-b2-c1
	m.play(t, A1, A3, A2, B2, C3, C1)

	require.NotNil(t, m.Result())
	assert.Equal(t, "p1", m.Result().Winner.ID)
	assert.Equal(t, "O", m.Result().Winner.Role)
}

func TestFullBoardDraw(t *testing.T) {
	m := newTestMatch(t, true, "")
	// X O X
	// X X O
	// O X O
	m.play(t, A1, A2, A3, B3, B1, C1, B2, C3, C2)

	require.NotNil(t, m.Result())
	assert.True(t, m.Result().Draw)
	assert.Nil(t, m.Result().Winner)
	assert.Nil(t, m.CurrentTurn())
	assert.Empty(t, m.Area().Actions())
	assert.Len(t, m.Moves(), 9)
}

func TestDrawDeclaredOnceNoLineIsWinnable(t *testing.T) {
	m := newTestMatch(t, true, "")
	// X O X
	// O X .
	// O X O
	m.play(t, A1, A2, A3, B1, B2, C1, C2, C3)

	require.NotNil(t, m.Result())
	assert.True(t, m.Result().Draw)
	assert.Len(t, m.Moves(), 8)
	_, taken := m.Board().Table[B3]
	assert.False(t, taken)
}

func TestRoleMismatchLeavesStateUnchanged(t *testing.T) {
	m := newTestMatch(t, true, "")
	m.play(t, B2)
	before := m.snapshot()

	p1 := m.Players()[0]
	p2 := m.Players()[1]
	attempts := []struct {
		name   string
		player *game.Player
		action Action
	}{
		{"wrong role for player", p2, Action{Role: RoleX, Position: A1}},
		{"other player's role", p1, Action{Role: RoleO, Position: A1}},
		{"out of turn", p1, Action{Role: RoleX, Position: A1}},
		{"unknown player", game.NewPlayer("p9", "P9"), Action{Role: RoleO, Position: A1}},
		{"nil player", nil, Action{Role: RoleO, Position: A1}},
		{"occupied cell", p2, Action{Role: RoleO, Position: B2}},
		{"unknown cell", p2, Action{Role: RoleO, Position: "d4"}},
	}
	for _, tc := range attempts {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Move(tc.player, tc.action)
			assert.ErrorIs(t, err, game.ErrInvalidMove)
			assert.Equal(t, before, m.snapshot())
		})
	}
}

func TestForeignActionType(t *testing.T) {
	m := newTestMatch(t, true, "")
	err := m.Move(m.CurrentTurn(), fakeAction{})
	assert.ErrorIs(t, err, game.ErrInvalidMove)

	err = m.Move(m.CurrentTurn(), &Action{Role: RoleX, Position: C3})
	assert.NoError(t, err)
}

type fakeAction struct{}

func (fakeAction) Notation() string { return "?" }

func TestMoveAfterResult(t *testing.T) {
	m := newTestMatch(t, true, "")
	m.play(t, A1, B1, A2, B2, A3)
	before := m.snapshot()

	for _, p := range m.Players() {
		err := m.Move(p, Action{Role: Role(p.Role), Position: C3})
		assert.ErrorIs(t, err, game.ErrInvalidMove)
	}
	assert.Equal(t, before, m.snapshot())
}

func TestVisibility(t *testing.T) {
	m := newTestMatch(t, true, "")
	policy := m.Visibility()
	state := m.State()

	assert.Len(t, game.VisibleActions(state, policy, "p1"), 9)
	assert.Empty(t, game.VisibleActions(state, policy, "p2"))
	assert.Empty(t, game.VisibleActions(state, policy, "spectator"))

	m.play(t, B2)
	assert.Empty(t, game.VisibleActions(state, policy, "p1"))
	visible := game.VisibleActions(state, policy, "p2")
	assert.Len(t, visible, 8)
	assert.ElementsMatch(t, m.Area().Actions(), visible)

	// a stale action for a taken cell is never shown
	assert.False(t, policy.Visible("p2", Action{Role: RoleO, Position: B2}, state))
	// nor an action for the other role
	assert.False(t, policy.Visible("p2", Action{Role: RoleX, Position: A1}, state))
	assert.False(t, policy.Visible("p2", fakeAction{}, state))

	m.play(t, A1, B1, A2, B3)
	require.NotNil(t, m.Result())
	assert.Empty(t, game.VisibleActions(state, policy, "p1"))
	assert.Empty(t, game.VisibleActions(state, policy, "p2"))
}

func TestParseAction(t *testing.T) {
	e := New(DefaultOptions)

	a, err := e.ParseAction(json.RawMessage(`{"role":"O","position":"c3"}`))
	require.NoError(t, err)
	assert.Equal(t, Action{Role: RoleO, Position: C3}, a)
	assert.Equal(t, "c3", a.Notation())

	for _, raw := range []string{`{"role":"Z","position":"c3"}`, `{"role":"X","position":"z9"}`, `nope`} {
		_, err := e.ParseAction(json.RawMessage(raw))
		assert.ErrorIs(t, err, game.ErrInvalidMove, raw)
	}
}

func TestClockBankedOnMove(t *testing.T) {
	m := newTestMatch(t, true, "")

	m.mock.Add(2 * time.Second)
	m.sched.Tick()
	assert.Equal(t, 58*time.Second, m.Clock("p1").Remaining())
	assert.Equal(t, game.TimeDuration{Seconds: 58}, m.Players()[0].RemainingTime)

	m.play(t, B2)
	assert.Equal(t, 63*time.Second, m.Clock("p1").Remaining())
	assert.Equal(t, game.TimeDuration{Minutes: 1, Seconds: 3}, m.Players()[0].RemainingTime)

	// only the player on turn is charged
	m.mock.Add(3 * time.Second)
	m.sched.Tick()
	assert.Equal(t, 63*time.Second, m.Clock("p1").Remaining())
	assert.Equal(t, 57*time.Second, m.Clock("p2").Remaining())
}

func TestClockBankingCapped(t *testing.T) {
	m := newTestMatch(t, true, `{"initialMs":10000,"incrementMs":4000,"maximumMs":12000}`)

	m.play(t, A1, B2, C3)
	assert.Equal(t, 12*time.Second, m.Clock("p1").Remaining())
	assert.Equal(t, 12*time.Second, m.Clock("p2").Remaining())
}

func TestTimeoutForfeit(t *testing.T) {
	m := newTestMatch(t, true, `{"initialMs":3000}`)
	m.play(t, B2)

	for i := 0; i < 3; i++ {
		m.mock.Add(time.Second)
		m.sched.Tick()
	}

	require.NotNil(t, m.Result())
	assert.False(t, m.Result().Draw)
	assert.Equal(t, "p1", m.Result().Winner.ID)
	assert.Nil(t, m.CurrentTurn())
	assert.Empty(t, m.Area().Actions())
	assert.Len(t, m.Moves(), 1)
	assert.Equal(t, game.TimeDuration{}, m.Players()[1].RemainingTime)

	err := m.Move(m.Players()[1], Action{Role: RoleO, Position: A1})
	assert.ErrorIs(t, err, game.ErrInvalidMove)
}

func TestTimeoutWithoutForfeit(t *testing.T) {
	m := newTestMatch(t, true, `{"initialMs":1000,"forfeitOnTimeout":false}`)

	m.mock.Add(2 * time.Second)
	m.sched.Tick()

	assert.True(t, m.Clock("p1").Expired())
	assert.Nil(t, m.Result())
	assert.Equal(t, "p1", m.CurrentTurn().ID)
}

func TestClose(t *testing.T) {
	m := newTestMatch(t, true, "")
	m.Close()

	assert.True(t, m.Clock("p1").Cleared())
	assert.True(t, m.Clock("p2").Cleared())
	assert.Equal(t, 0, m.sched.Len())
}

// TestRandomPlayoutsKeepInvariants plays random legal games and checks the
// turn, legality and monotonic-log properties after every move.
func TestRandomPlayoutsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for n := 0; n < 200; n++ {
		m := newTestMatch(t, rng.IntN(2) == 0, "")
		for m.Result() == nil {
			checkInvariants(t, m)
			legal := m.Board().Legal()
			pick := legal[rng.IntN(len(legal))]
			before := len(m.Moves())
			require.NoError(t, m.Move(m.CurrentTurn(), pick))
			require.Equal(t, before+1, len(m.Moves()))
		}
		checkInvariants(t, m)
		if !m.Result().Draw {
			require.NotNil(t, m.Result().Winner)
		}
	}
}

func checkInvariants(t *testing.T, m *testMatch) {
	t.Helper()
	if m.Result() != nil {
		require.Nil(t, m.CurrentTurn())
		require.Empty(t, m.Area().Actions())
		return
	}
	turn := m.CurrentTurn()
	require.NotNil(t, turn)
	require.Same(t, turn, m.State().Player(turn.ID))
	require.NotEmpty(t, m.Board().Legal())
	for _, a := range m.Board().Legal() {
		require.Equal(t, turn.Role, string(a.Role))
		_, taken := m.Board().Table[a.Position]
		require.False(t, taken)
	}
	require.Len(t, m.Board().Legal(), 9-len(m.Board().Table))
}
