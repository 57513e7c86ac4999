package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tabletop/internal/game"
	"tabletop/internal/timer"
)

// Status represents the match protocol state.
type Status string

const (
	StatusFilling   Status = "filling"
	StatusReady     Status = "ready"
	StatusPlaying   Status = "playing"
	StatusConcluded Status = "concluded"
)

var (
	ErrFull          = errors.New("session is full")
	ErrNotAccepting  = errors.New("session is not accepting players")
	ErrUnknownPlayer = errors.New("player not in session")
	ErrNotPlaying    = errors.New("game not started")
)

// Seat is a joined participant and its outbound message queue.
type Seat struct {
	Player *game.Player
	Send   chan []byte
}

// Hooks are called with the session lock held.
type Hooks struct {
	OnStatus   func(s *Session, status Status)
	OnConclude func(s *Session, result *game.Result, moves []game.Move)
}

// Session is one match: it fills seats, starts the engine once every seat
// is online, feeds moves into it and publishes its state. All engine calls
// and timer ticks are serialized by the session lock.
type Session struct {
	mu        sync.Mutex
	Code      string
	GameType  string
	CreatedAt time.Time

	status    Status
	seats     map[string]*Seat
	order     []string
	engine    game.Engine
	scheduler *timer.Scheduler
	options   json.RawMessage
	ended     bool
	hooks     Hooks
	logger    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session in the filling state around a fresh engine.
func New(code, gameType string, engine game.Engine, clk clock.Clock, options json.RawMessage, logger *zap.Logger) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Code:      code,
		GameType:  gameType,
		CreatedAt: clk.Now(),
		status:    StatusFilling,
		seats:     make(map[string]*Seat),
		engine:    engine,
		scheduler: timer.NewScheduler(clk),
		options:   options,
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("session", code), zap.String("game", gameType)),
	}
}

// SetHooks installs lifecycle callbacks.
func (s *Session) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// Join seats a player, or reconnects one already seated by replacing its
// send channel. The returned seat is a snapshot; its channel receives every
// broadcast until the player reconnects or leaves.
func (s *Session) Join(playerID, name string) (*Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seat, ok := s.seats[playerID]; ok {
		close(seat.Send)
		seat.Send = make(chan []byte, 64)
		if s.status != StatusFilling {
			seat.Player.Connection.Status = game.StatusOnline
		}
		s.logger.Info("player reconnected", zap.String("player", playerID))
		s.publishLocked()
		snapshot := *seat
		return &snapshot, nil
	}
	if s.status != StatusFilling {
		return nil, ErrNotAccepting
	}
	if len(s.seats) >= s.engine.MaxPlayers() {
		return nil, ErrFull
	}
	if name == "" {
		name = playerID
	}
	seat := &Seat{
		Player: game.NewPlayer(playerID, name),
		Send:   make(chan []byte, 64),
	}
	s.seats[playerID] = seat
	s.order = append(s.order, playerID)
	s.logger.Info("player joined", zap.String("player", playerID), zap.Int("seats", len(s.seats)))
	s.publishLocked()
	snapshot := *seat
	return &snapshot, nil
}

// Leave handles a dropped connection. While seats are filling the seat is
// freed; afterwards the player is marked offline and may reconnect. A stale
// send channel from a replaced connection is ignored.
func (s *Session) Leave(playerID string, ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat, ok := s.seats[playerID]
	if !ok || (ch != nil && seat.Send != ch) {
		return
	}
	if s.status == StatusFilling {
		close(seat.Send)
		delete(s.seats, playerID)
		for i, id := range s.order {
			if id == playerID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.logger.Info("player left", zap.String("player", playerID))
	} else {
		seat.Player.Connection.Status = game.StatusOffline
		s.logger.Info("player offline", zap.String("player", playerID))
	}
	s.publishLocked()
}

// RequestSeat marks the player online. Once every seat is taken and online
// the engine is set up and the game starts.
func (s *Session) RequestSeat(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat, ok := s.seats[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	seat.Player.Connection.Status = game.StatusOnline
	s.logger.Info("seat requested",
		zap.String("player", playerID),
		zap.Int("seats", len(s.seats)),
		zap.Int("capacity", s.engine.MaxPlayers()),
	)

	if s.status != StatusFilling || !s.allOnlineLocked() {
		s.publishLocked()
		return nil
	}

	s.setStatusLocked(StatusReady)
	players := make([]*game.Player, 0, len(s.order))
	for _, id := range s.order {
		players = append(players, s.seats[id].Player)
	}
	ctx := &game.Context{Timers: s.scheduler}
	if err := s.engine.Setup(ctx, game.Settings{Players: players, Options: s.options}); err != nil {
		s.logger.Warn("setup failed", zap.Error(err))
		s.setStatusLocked(StatusFilling)
		return fmt.Errorf("start game: %w", err)
	}
	s.setStatusLocked(StatusPlaying)
	s.logger.Info("game started")
	s.broadcastLocked(MsgGameStarted, struct{}{})
	s.publishLocked()
	return nil
}

func (s *Session) allOnlineLocked() bool {
	if len(s.seats) != s.engine.MaxPlayers() {
		return false
	}
	for _, seat := range s.seats {
		if seat.Player.Connection.Status != game.StatusOnline {
			return false
		}
	}
	return true
}

// Move resolves the sender and forwards the action to the engine. A
// rejected move is logged and returned; the state is left unchanged.
func (s *Session) Move(playerID string, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return ErrNotPlaying
	}
	var player *game.Player
	for _, p := range s.engine.Players() {
		if p.ID == playerID {
			player = p
			break
		}
	}
	err := func() error {
		if player == nil {
			return fmt.Errorf("%w: invalid player %s", game.ErrInvalidMove, playerID)
		}
		action, err := s.engine.ParseAction(raw)
		if err != nil {
			return err
		}
		return s.engine.Move(player, action)
	}()
	if err != nil {
		s.logger.Warn("move rejected", zap.String("player", playerID), zap.Error(err))
		return err
	}
	s.publishLocked()
	return nil
}

// Tick advances the match clock and publishes the state.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler.Tick()
	s.publishLocked()
}

// Run ticks the session every interval until ctx is done, the session is
// closed or it concludes.
func (s *Session) Run(ctx context.Context, clk clock.Clock, interval time.Duration) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick()
			if s.Status() == StatusConcluded {
				return
			}
		}
	}
}

// publishLocked sends every seat its own view of the game, then announces
// the end of the game once a result appears.
func (s *Session) publishLocked() {
	state := s.engine.State()
	policy := s.engine.Visibility()
	info := s.infoLocked()
	for _, id := range s.order {
		seat := s.seats[id]
		send(seat.Send, MsgState, StatePayload{
			State:       game.NewView(state, policy, id),
			SessionInfo: info,
		})
	}
	if state.Result == nil || s.ended {
		return
	}
	s.ended = true
	s.setStatusLocked(StatusConcluded)
	s.engine.Close()
	s.scheduler.Clear()
	s.logger.Info("game ended", zap.Bool("draw", state.Result.Draw), zap.Int("moves", len(state.Moves)))
	s.broadcastLocked(MsgGameEnded, GameEndedPayload{Result: state.Result})
	if s.hooks.OnConclude != nil {
		moves := make([]game.Move, len(state.Moves))
		copy(moves, state.Moves)
		s.hooks.OnConclude(s, state.Result, moves)
	}
}

func (s *Session) setStatusLocked(status Status) {
	s.status = status
	if s.hooks.OnStatus != nil {
		s.hooks.OnStatus(s, status)
	}
}

func (s *Session) broadcastLocked(msgType string, payload any) {
	for _, id := range s.order {
		send(s.seats[id].Send, msgType, payload)
	}
}

// Notify sends a message to one seat, provided ch is still that seat's
// channel. Used to answer a connection without racing a reconnect.
func (s *Session) Notify(playerID string, ch chan []byte, msgType string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[playerID]
	if !ok || seat.Send != ch {
		return
	}
	send(ch, msgType, payload)
}

// Status returns the protocol state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Seat returns a snapshot of a seated player's seat, or nil.
func (s *Session) Seat(playerID string) *Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[playerID]
	if !ok {
		return nil
	}
	snapshot := *seat
	return &snapshot
}

// View returns observer's view of the game.
func (s *Session) View(observer string) game.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return game.NewView(s.engine.State(), s.engine.Visibility(), observer)
}

// Result returns the game result, or nil while undecided.
func (s *Session) Result() *game.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Result()
}

// Close stops the engine's timers, ends Run and closes every send channel.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine.Started() {
		s.engine.Close()
	}
	s.scheduler.Clear()
	for _, id := range s.order {
		close(s.seats[id].Send)
	}
	s.seats = make(map[string]*Seat)
	s.order = nil
}

// Info returns session info for the API.
type Info struct {
	Code       string   `json:"code"`
	GameType   string   `json:"gameType"`
	Status     Status   `json:"status"`
	Players    []string `json:"players"`
	MaxPlayers int      `json:"maxPlayers"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return Info{
		Code:       s.Code,
		GameType:   s.GameType,
		Status:     s.status,
		Players:    ids,
		MaxPlayers: s.engine.MaxPlayers(),
	}
}
