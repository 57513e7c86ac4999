package game

import (
	"encoding/json"
	"fmt"
	"time"

	"tabletop/internal/timer"
)

// TimerFactory creates countdown timers bound to the match's clock.
type TimerFactory interface {
	CreateCountdown(initial time.Duration, opts ...timer.Option) *timer.Countdown
}

// Context holds the capabilities a match lends to its engine.
type Context struct {
	Timers TimerFactory
}

// Phase is the engine lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseConfigured
	PhaseStarted
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseConfigured:
		return "configured"
	case PhaseStarted:
		return "started"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// SetupFunc populates the game state from settings. It runs with the
// context and settings already available and must seat the roster and set
// the initial area and turn before returning.
type SetupFunc func(settings Settings) error

// Base holds game state, settings and context, and enforces the
// uninitialized → configured → started lifecycle. Concrete engines embed
// it (through TurnBased) and supply their setup hook.
type Base struct {
	state    *State
	ctx      *Context
	settings *Settings
	phase    Phase
	onSetup  SetupFunc
}

// NewBase creates an uninitialized base around state.
func NewBase(state *State, onSetup SetupFunc) Base {
	return Base{state: state, onSetup: onSetup}
}

// Setup stores ctx and settings, runs the setup hook and starts the engine.
// If the hook fails the engine returns to uninitialized.
func (b *Base) Setup(ctx *Context, settings Settings) error {
	if b.phase != PhaseUninitialized {
		return ErrAlreadySetUp
	}
	if ctx == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidSettings)
	}
	b.ctx = ctx
	b.settings = &settings
	b.phase = PhaseConfigured

	if b.onSetup != nil {
		if err := b.onSetup(settings); err != nil {
			b.ctx = nil
			b.settings = nil
			b.phase = PhaseUninitialized
			return err
		}
	}
	b.phase = PhaseStarted
	return nil
}

// State returns the game state. It is readable before setup so the empty
// roster can be published while seats fill.
func (b *Base) State() *State { return b.state }

// Phase returns the lifecycle phase.
func (b *Base) Phase() Phase { return b.phase }

// Started reports whether setup completed.
func (b *Base) Started() bool { return b.phase == PhaseStarted }

// Context returns the context supplied at setup.
func (b *Base) Context() (*Context, error) {
	if b.ctx == nil {
		return nil, ErrNotReady
	}
	return b.ctx, nil
}

// Settings returns the settings supplied at setup.
func (b *Base) Settings() (Settings, error) {
	if b.settings == nil {
		return Settings{}, ErrNotReady
	}
	return *b.settings, nil
}

// TurnBased adds read accessors over the turn-based state.
type TurnBased struct {
	Base
}

// NewTurnBased creates an uninitialized turn-based engine core.
func NewTurnBased(state *State, onSetup SetupFunc) TurnBased {
	return TurnBased{Base: NewBase(state, onSetup)}
}

func (t *TurnBased) MinPlayers() int { return t.state.MinPlayers }
func (t *TurnBased) MaxPlayers() int { return t.state.MaxPlayers }
func (t *TurnBased) Players() []*Player { return t.state.Players }
func (t *TurnBased) Area() Area { return t.state.Area }
func (t *TurnBased) CurrentTurn() *Player { return t.state.CurrentTurn }
func (t *TurnBased) Moves() []Move { return t.state.Moves }
func (t *TurnBased) Result() *Result { return t.state.Result }

// Engine is a turn-based rule engine for one match. It performs no I/O and
// is not safe for concurrent use; the match serializes every call.
type Engine interface {
	Setup(ctx *Context, settings Settings) error
	State() *State
	Phase() Phase
	Started() bool
	Context() (*Context, error)
	Settings() (Settings, error)

	MinPlayers() int
	MaxPlayers() int
	Players() []*Player
	Area() Area
	CurrentTurn() *Player
	Moves() []Move
	Result() *Result

	// Move validates and applies one turn. Validation precedes any
	// mutation: on error the state is unchanged.
	Move(player *Player, action Action) error
	// ParseAction decodes a client-supplied action.
	ParseAction(data json.RawMessage) (Action, error)
	// Visibility is the per-observer filter for the legal-action set.
	Visibility() Visibility
	// Close releases the engine's timers.
	Close()
}
