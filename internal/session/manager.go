package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tabletop/internal/game"
	"tabletop/internal/storage"
)

// Options configures a Manager.
type Options struct {
	// TickInterval drives each session's match clock. Zero disables the
	// background loop; sessions are then ticked by the caller.
	TickInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Manager manages all active sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	registry *game.Registry
	store    *storage.Store
	clock    clock.Clock
	tick     time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(registry *game.Registry, store *storage.Store, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*Session),
		registry: registry,
		store:    store,
		clock:    opts.Clock,
		tick:     opts.TickInterval,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Create makes a new session and persists it. options is passed to the
// engine at setup and may be nil.
func (m *Manager) Create(gameType string, options json.RawMessage) (*Session, error) {
	engine, err := m.registry.NewEngine(gameType)
	if err != nil {
		return nil, err
	}
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	if err := m.store.CreateSession(code, gameType); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s := New(code, gameType, engine, m.clock, options, m.logger)
	s.SetHooks(Hooks{
		OnStatus:   m.persistStatus,
		OnConclude: m.archive,
	})
	m.mu.Lock()
	m.sessions[code] = s
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session", code), zap.String("game", gameType))

	if m.tick > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.Run(m.ctx, m.clock, m.tick)
		}()
	}
	return s, nil
}

func (m *Manager) persistStatus(s *Session, status Status) {
	if err := m.store.UpdateSessionStatus(s.Code, string(status)); err != nil {
		m.logger.Error("persist status", zap.String("session", s.Code), zap.Error(err))
	}
}

func (m *Manager) archive(s *Session, result *game.Result, moves []game.Move) {
	data, err := json.Marshal(moves)
	if err != nil {
		m.logger.Error("marshal moves", zap.String("session", s.Code), zap.Error(err))
		return
	}
	row := storage.ResultRow{
		SessionCode: s.Code,
		Draw:        result.Draw,
		MovesJSON:   string(data),
	}
	if result.Winner != nil {
		row.WinnerID = result.Winner.ID
	}
	if err := m.store.SaveResult(row); err != nil {
		m.logger.Error("archive result", zap.String("session", s.Code), zap.Error(err))
	}
}

// Get returns a session by code.
func (m *Manager) Get(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	return s, ok
}

// List returns info for all active sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Code < sessions[j].Code
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// History returns stored sessions with the given status, newest first. An
// empty status returns every stored session, including concluded and
// abandoned ones no longer held in memory.
func (m *Manager) History(status string) ([]storage.SessionRow, error) {
	rows, err := m.store.ListSessions(status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return rows, nil
}

// Result returns the archived result of a concluded session.
func (m *Manager) Result(code string) (*storage.ResultRow, error) {
	return m.store.GetResult(code)
}

// Reconcile runs once at startup. Live match state is never persisted, so
// sessions a previous process left open cannot resume and are marked
// abandoned.
func (m *Manager) Reconcile() error {
	n, err := m.store.MarkAbandoned()
	if err != nil {
		return fmt.Errorf("mark abandoned: %w", err)
	}
	if n > 0 {
		m.logger.Info("abandoned stale sessions", zap.Int64("count", n))
	}
	return nil
}

// Remove deletes a session from memory and storage.
func (m *Manager) Remove(code string) {
	m.mu.Lock()
	s, ok := m.sessions[code]
	delete(m.sessions, code)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	if err := m.store.DeleteSession(code); err != nil {
		m.logger.Error("delete session", zap.String("session", code), zap.Error(err))
	}
}

// CleanupLoop removes stale sessions periodically until Shutdown.
func (m *Manager) CleanupLoop(interval, maxAge time.Duration) {
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(maxAge)
		}
	}
}

// cleanup drops concluded sessions older than maxAge from memory, keeping
// their archive, and deletes sessions nobody ever joined.
func (m *Manager) cleanup(maxAge time.Duration) {
	now := m.clock.Now()
	m.mu.Lock()
	var stale []*Session
	var empty []string
	for code, s := range m.sessions {
		info := s.Info()
		switch {
		case info.Status == StatusConcluded && now.Sub(s.CreatedAt) > maxAge:
			stale = append(stale, s)
			delete(m.sessions, code)
		case len(info.Players) == 0 && now.Sub(s.CreatedAt) > maxAge:
			stale = append(stale, s)
			empty = append(empty, code)
			delete(m.sessions, code)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.logger.Info("cleaning up session", zap.String("session", s.Code))
		s.Close()
	}
	for _, code := range empty {
		if err := m.store.DeleteSession(code); err != nil {
			m.logger.Error("delete session", zap.String("session", code), zap.Error(err))
		}
	}
}

// Shutdown stops every session loop and closes all sessions.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

var randRead = rand.Read

func generateCode() (string, error) {
	b := make([]byte, 3) // 6 hex chars
	if _, err := randRead(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
