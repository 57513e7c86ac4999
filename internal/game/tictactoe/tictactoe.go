package tictactoe

import (
	"encoding/json"
	"fmt"
	"time"

	"tabletop/internal/game"
)

// Role is the mark a player places.
type Role string

const (
	RoleX Role = "X"
	RoleO Role = "O"
)

// Opponent returns the other role.
func (r Role) Opponent() Role {
	if r == RoleX {
		return RoleO
	}
	return RoleX
}

// Position is a cell: row a-c top to bottom, column 1-3 left to right.
type Position string

const (
	A1 Position = "a1"
	A2 Position = "a2"
	A3 Position = "a3"
	B1 Position = "b1"
	B2 Position = "b2"
	B3 Position = "b3"
	C1 Position = "c1"
	C2 Position = "c2"
	C3 Position = "c3"
)

// Positions lists every cell in board order.
var Positions = []Position{A1, A2, A3, B1, B2, B3, C1, C2, C3}

var winLines = [][3]Position{
	{A1, A2, A3}, {B1, B2, B3}, {C1, C2, C3}, // rows
	{A1, B1, C1}, {A2, B2, C2}, {A3, B3, C3}, // cols
	{A1, B2, C3}, {A3, B2, C1}, // diags
}

// Action places role at position.
type Action struct {
	Role     Role     `json:"role"`
	Position Position `json:"position"`
}

func (a Action) Notation() string { return string(a.Position) }

// Area is the board plus the legal actions for the role on turn.
type Area struct {
	Table   map[Position]Role `json:"table"`
	actions []Action
}

func newArea() *Area {
	return &Area{Table: make(map[Position]Role)}
}

// Actions implements game.Area.
func (a *Area) Actions() []game.Action {
	out := make([]game.Action, len(a.actions))
	for i, act := range a.actions {
		out[i] = act
	}
	return out
}

// Legal returns the typed legal-action set.
func (a *Area) Legal() []Action {
	out := make([]Action, len(a.actions))
	copy(out, a.actions)
	return out
}

func (a *Area) indexOf(act Action) int {
	for i, legal := range a.actions {
		if legal == act {
			return i
		}
	}
	return -1
}

// legalFor builds one action per empty cell for role.
func (a *Area) legalFor(role Role) []Action {
	var actions []Action
	for _, pos := range Positions {
		if _, taken := a.Table[pos]; !taken {
			actions = append(actions, Action{Role: role, Position: pos})
		}
	}
	return actions
}

// Options tunes the players' clocks.
type Options struct {
	InitialTime      time.Duration
	Increment        time.Duration
	MaximumTime      time.Duration
	TickInterval     time.Duration
	ForfeitOnTimeout bool
}

// DefaultOptions is used when a game is registered without options.
var DefaultOptions = Options{
	InitialTime:      time.Minute,
	Increment:        5 * time.Second,
	MaximumTime:      90 * time.Second,
	TickInterval:     time.Second,
	ForfeitOnTimeout: true,
}

// optionsPayload is the per-match override carried in game.Settings.
type optionsPayload struct {
	InitialMs   int64 `json:"initialMs"`
	IncrementMs int64 `json:"incrementMs"`
	MaximumMs   int64 `json:"maximumMs"`
	Forfeit     *bool `json:"forfeitOnTimeout"`
}

func (o Options) merge(raw json.RawMessage) (Options, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return o, nil
	}
	var p optionsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return o, fmt.Errorf("%w: options: %v", game.ErrInvalidSettings, err)
	}
	if p.InitialMs < 0 || p.IncrementMs < 0 || p.MaximumMs < 0 {
		return o, fmt.Errorf("%w: negative clock option", game.ErrInvalidSettings)
	}
	if p.InitialMs > 0 {
		o.InitialTime = time.Duration(p.InitialMs) * time.Millisecond
	}
	if p.IncrementMs > 0 {
		o.Increment = time.Duration(p.IncrementMs) * time.Millisecond
	}
	if p.MaximumMs > 0 {
		o.MaximumTime = time.Duration(p.MaximumMs) * time.Millisecond
	}
	if p.Forfeit != nil {
		o.ForfeitOnTimeout = *p.Forfeit
	}
	if o.MaximumTime < o.InitialTime {
		return o, fmt.Errorf("%w: maximum time %v below initial time %v", game.ErrInvalidSettings, o.MaximumTime, o.InitialTime)
	}
	return o, nil
}

// TicTacToe implements game.Game.
type TicTacToe struct {
	Options Options
}

func (t TicTacToe) Info() game.GameInfo {
	return game.GameInfo{
		Name:       "tictactoe",
		MinPlayers: 2,
		MaxPlayers: 2,
	}
}

func (t TicTacToe) NewEngine() game.Engine {
	opts := t.Options
	if opts.InitialTime <= 0 {
		opts = DefaultOptions
	}
	return New(opts)
}
