package game

import (
	"encoding/json"
	"fmt"
)

// GameInfo describes a game type for the lobby.
type GameInfo struct {
	Name       string `json:"name"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

// ConnectionStatus is the presence of a player as seen by the match.
type ConnectionStatus string

const (
	StatusUnknown ConnectionStatus = "unknown"
	StatusOnline  ConnectionStatus = "online"
	StatusOffline ConnectionStatus = "offline"
)

// Connection is owned by the match orchestrator and shared with the
// engine's player records, so presence updates never touch game state.
type Connection struct {
	Status ConnectionStatus `json:"status"`
}

// TimeDuration is the remaining-time readout mirrored from a player's clock.
type TimeDuration struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Player is a seated participant.
type Player struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Role          string       `json:"role,omitempty"` // game-defined, empty when unused
	Connection    *Connection  `json:"connection"`
	RemainingTime TimeDuration `json:"remainingTime"`
}

// NewPlayer creates a player with an unknown connection status.
func NewPlayer(id, name string) *Player {
	return &Player{ID: id, Name: name, Connection: &Connection{Status: StatusUnknown}}
}

// WithRole returns a copy of p carrying role. The connection is shared.
func (p *Player) WithRole(role string) *Player {
	cp := *p
	cp.Role = role
	return &cp
}

// Move is one completed turn. Moves are append-only.
type Move struct {
	Notation string  `json:"notation"`
	Player   *Player `json:"player"`
}

// Result is the terminal outcome of a game. Winner is nil only for a draw.
type Result struct {
	Draw   bool    `json:"draw"`
	Winner *Player `json:"winner"`
}

// NewWin returns a decisive result.
func NewWin(winner *Player) *Result {
	return &Result{Winner: winner}
}

// NewDraw returns a drawn result.
func NewDraw() *Result {
	return &Result{Draw: true}
}

// Action is a game-defined move value.
type Action interface {
	Notation() string
}

// Area is the game-specific board plus the current legal-action set. The
// action set is empty once the game has concluded.
type Area interface {
	Actions() []Action
}

// State is the aggregate root of one match.
type State struct {
	MinPlayers  int       `json:"minPlayers"`
	MaxPlayers  int       `json:"maxPlayers"`
	Players     []*Player `json:"players"`
	Area        Area      `json:"area"`
	CurrentTurn *Player   `json:"currentTurn"`
	Moves       []Move    `json:"moves"`
	Result      *Result   `json:"result"`
}

// NewState creates an empty state for a game seating between min and max players.
func NewState(area Area, minPlayers, maxPlayers int) *State {
	return &State{
		MinPlayers: minPlayers,
		MaxPlayers: maxPlayers,
		Players:    []*Player{},
		Area:       area,
		Moves:      []Move{},
	}
}

// Seat appends players to the roster, refusing to exceed MaxPlayers.
func (s *State) Seat(players ...*Player) error {
	if len(s.Players)+len(players) > s.MaxPlayers {
		return fmt.Errorf("%w: roster of %d exceeds %d players", ErrInvalidSettings, len(s.Players)+len(players), s.MaxPlayers)
	}
	s.Players = append(s.Players, players...)
	return nil
}

// Player returns the roster entry with the given id, or nil.
func (s *State) Player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Settings is the per-match configuration supplied once, at setup.
type Settings struct {
	Players []*Player
	Options json.RawMessage
}
