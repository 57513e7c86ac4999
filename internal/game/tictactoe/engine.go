package tictactoe

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"tabletop/internal/game"
	"tabletop/internal/timer"
)

// Engine is the three-in-a-row rule engine.
type Engine struct {
	game.TurnBased
	area   *Area
	opts   Options
	clocks map[string]*timer.Countdown
	coin   func() bool // true keeps the roster order for X, O
}

// New creates an engine waiting for setup.
func New(opts Options) *Engine {
	e := &Engine{
		area:   newArea(),
		opts:   opts,
		clocks: make(map[string]*timer.Countdown),
		coin:   func() bool { return rand.IntN(2) == 0 },
	}
	e.TurnBased = game.NewTurnBased(game.NewState(e.area, 2, 2), e.setup)
	return e
}

func (e *Engine) setup(settings game.Settings) error {
	if len(settings.Players) != 2 {
		return fmt.Errorf("%w: tictactoe needs 2 players, got %d", game.ErrInvalidSettings, len(settings.Players))
	}
	first, second := settings.Players[0], settings.Players[1]
	if first == nil || second == nil || first.ID == second.ID {
		return fmt.Errorf("%w: tictactoe needs 2 distinct players", game.ErrInvalidSettings)
	}
	opts, err := e.opts.merge(settings.Options)
	if err != nil {
		return err
	}
	ctx, err := e.Context()
	if err != nil {
		return err
	}
	if ctx.Timers == nil {
		return fmt.Errorf("%w: no timer factory", game.ErrInvalidSettings)
	}
	e.opts = opts

	roles := [2]Role{RoleX, RoleO}
	if !e.coin() {
		roles = [2]Role{RoleO, RoleX}
	}
	players := []*game.Player{
		first.WithRole(string(roles[0])),
		second.WithRole(string(roles[1])),
	}
	if err := e.State().Seat(players...); err != nil {
		return err
	}
	for _, p := range players {
		c := ctx.Timers.CreateCountdown(opts.InitialTime,
			timer.WithInterval(opts.TickInterval),
			timer.WithMaximum(opts.MaximumTime),
			timer.OnTick(func(c *timer.Countdown) { e.onTick(p, c) }),
		)
		e.clocks[p.ID] = c
		mirror(p, c)
	}
	e.startTurn(RoleX)
	return nil
}

// Move validates and applies one placement.
func (e *Engine) Move(player *game.Player, action game.Action) error {
	if !e.Started() {
		return game.ErrNotReady
	}
	act, ok := asAction(action)
	if !ok {
		return fmt.Errorf("%w: unsupported action %T", game.ErrInvalidMove, action)
	}
	state := e.State()
	if state.Result != nil {
		return fmt.Errorf("%w: game is over", game.ErrInvalidMove)
	}
	if player == nil {
		return fmt.Errorf("%w: no player", game.ErrInvalidMove)
	}
	seat := state.Player(player.ID)
	if seat == nil || Role(seat.Role) != act.Role {
		return fmt.Errorf("%w: player %s cannot play %s", game.ErrInvalidMove, player.ID, act.Role)
	}
	if e.area.indexOf(act) < 0 {
		return fmt.Errorf("%w: %s at %s is not legal", game.ErrInvalidMove, act.Role, act.Position)
	}

	c := e.clocks[seat.ID]
	c.Pause()
	c.Increase(e.opts.Increment)
	mirror(seat, c)

	e.area.Table[act.Position] = act.Role
	state.Moves = append(state.Moves, game.Move{Notation: act.Notation(), Player: seat})

	if result := e.evaluate(); result != nil {
		e.conclude(result)
		return nil
	}
	e.startTurn(act.Role.Opponent())
	return nil
}

// ParseAction decodes {"role":"X","position":"b2"}.
func (e *Engine) ParseAction(data json.RawMessage) (game.Action, error) {
	var act Action
	if err := json.Unmarshal(data, &act); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrInvalidMove, err)
	}
	if act.Role != RoleX && act.Role != RoleO {
		return nil, fmt.Errorf("%w: unknown role %q", game.ErrInvalidMove, act.Role)
	}
	if !slices.Contains(Positions, act.Position) {
		return nil, fmt.Errorf("%w: unknown position %q", game.ErrInvalidMove, act.Position)
	}
	return act, nil
}

// Visibility shows an action only to the turn holder, for the turn
// holder's role, while its cell is empty.
func (e *Engine) Visibility() game.Visibility {
	return visibility{area: e.area}
}

// Close clears every player's clock.
func (e *Engine) Close() {
	for _, c := range e.clocks {
		c.Clear()
	}
}

// Board returns the typed board and action set.
func (e *Engine) Board() *Area { return e.area }

// Clock returns the countdown of the player with id, or nil.
func (e *Engine) Clock(id string) *timer.Countdown { return e.clocks[id] }

// PlayerWithRole returns the seated player holding role, or nil.
func (e *Engine) PlayerWithRole(role Role) *game.Player {
	for _, p := range e.Players() {
		if Role(p.Role) == role {
			return p
		}
	}
	return nil
}

func (e *Engine) startTurn(role Role) {
	p := e.PlayerWithRole(role)
	e.area.actions = e.area.legalFor(role)
	e.State().CurrentTurn = p
	e.clocks[p.ID].Resume()
}

func (e *Engine) conclude(result *game.Result) {
	state := e.State()
	state.CurrentTurn = nil
	e.area.actions = nil
	state.Result = result
	for _, c := range e.clocks {
		c.Pause()
	}
}

// evaluate returns a win for a completed line, a draw once no line can be
// completed by anyone, and nil otherwise. A line holding both roles is dead.
func (e *Engine) evaluate() *game.Result {
	winnable := false
	for _, line := range winLines {
		owner, alive := e.lineStatus(line)
		if owner != "" {
			return game.NewWin(e.PlayerWithRole(owner))
		}
		if alive {
			winnable = true
		}
	}
	if !winnable {
		return game.NewDraw()
	}
	return nil
}

func (e *Engine) lineStatus(line [3]Position) (owner Role, alive bool) {
	var first Role
	filled := 0
	for _, pos := range line {
		r, ok := e.area.Table[pos]
		if !ok {
			continue
		}
		filled++
		if first == "" {
			first = r
		} else if r != first {
			return "", false
		}
	}
	if filled == len(line) {
		return first, true
	}
	return "", true
}

func (e *Engine) onTick(p *game.Player, c *timer.Countdown) {
	mirror(p, c)
	if !e.opts.ForfeitOnTimeout || !c.Expired() {
		return
	}
	state := e.State()
	if state.Result != nil || state.CurrentTurn != p {
		return
	}
	e.conclude(game.NewWin(e.PlayerWithRole(Role(p.Role).Opponent())))
}

func asAction(a game.Action) (Action, bool) {
	switch v := a.(type) {
	case Action:
		return v, true
	case *Action:
		if v != nil {
			return *v, true
		}
	}
	return Action{}, false
}

// mirror copies the clock readout into the player record, floored at zero.
func mirror(p *game.Player, c *timer.Countdown) {
	rem := c.Remaining()
	if rem < 0 {
		rem = 0
	}
	p.RemainingTime = game.TimeDuration{
		Minutes: int(rem / time.Minute),
		Seconds: int(rem % time.Minute / time.Second),
	}
}

type visibility struct {
	area *Area
}

func (v visibility) Visible(observer string, action game.Action, state *game.State) bool {
	act, ok := asAction(action)
	if !ok || state.CurrentTurn == nil {
		return false
	}
	if observer != state.CurrentTurn.ID || string(act.Role) != state.CurrentTurn.Role {
		return false
	}
	_, taken := v.area.Table[act.Position]
	return !taken
}
