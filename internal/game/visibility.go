package game

// Visibility decides whether observer may see and select action. It is
// evaluated at publish time and never mutates the action set.
type Visibility interface {
	Visible(observer string, action Action, state *State) bool
}

// VisibilityFunc adapts a function to Visibility.
type VisibilityFunc func(observer string, action Action, state *State) bool

func (f VisibilityFunc) Visible(observer string, action Action, state *State) bool {
	return f(observer, action, state)
}

// TurnHolderOnly shows every action to the current turn holder and nothing
// to anyone else.
var TurnHolderOnly = VisibilityFunc(func(observer string, _ Action, state *State) bool {
	return state.CurrentTurn != nil && state.CurrentTurn.ID == observer
})

// VisibleActions filters the area's action set for observer.
func VisibleActions(state *State, policy Visibility, observer string) []Action {
	if state.Area == nil {
		return []Action{}
	}
	all := state.Area.Actions()
	visible := make([]Action, 0, len(all))
	for _, a := range all {
		if policy.Visible(observer, a, state) {
			visible = append(visible, a)
		}
	}
	return visible
}

// View is the state as published to one observer.
type View struct {
	MinPlayers  int       `json:"minPlayers"`
	MaxPlayers  int       `json:"maxPlayers"`
	Players     []*Player `json:"players"`
	Area        Area      `json:"area"`
	Actions     []Action  `json:"actions"`
	CurrentTurn *Player   `json:"currentTurn"`
	Moves       []Move    `json:"moves"`
	Result      *Result   `json:"result"`
}

// NewView builds observer's view of state. Slices are copied so the view
// can be encoded after the match moves on.
func NewView(state *State, policy Visibility, observer string) View {
	if policy == nil {
		policy = TurnHolderOnly
	}
	players := make([]*Player, len(state.Players))
	copy(players, state.Players)
	moves := make([]Move, len(state.Moves))
	copy(moves, state.Moves)
	return View{
		MinPlayers:  state.MinPlayers,
		MaxPlayers:  state.MaxPlayers,
		Players:     players,
		Area:        state.Area,
		Actions:     VisibleActions(state, policy, observer),
		CurrentTurn: state.CurrentTurn,
		Moves:       moves,
		Result:      state.Result,
	}
}
