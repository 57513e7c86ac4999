package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tabletop/internal/game"
	"tabletop/internal/session"
	"tabletop/internal/storage"
)

// Server is the HTTP server.
type Server struct {
	mux      *http.ServeMux
	registry *game.Registry
	manager  *session.Manager
	webFS    fs.FS
	logger   *zap.Logger
}

// New creates a server with all routes.
// webFS should be the "web" subdirectory of the embedded filesystem; nil
// disables static files.
func New(registry *game.Registry, manager *session.Manager, webFS fs.FS, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mux:      http.NewServeMux(),
		registry: registry,
		manager:  manager,
		webFS:    webFS,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// API routes
	s.mux.HandleFunc("GET /api/games", s.handleListGames)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{code}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/sessions/{code}/result", s.handleGetResult)
	s.mux.HandleFunc("GET /api/sessions/{code}/ws", s.handleWebSocket)

	// Static files
	if s.webFS != nil {
		s.mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type storedSession struct {
	Code      string    `json:"code"`
	GameType  string    `json:"gameType"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

var storedStatuses = map[string]bool{
	"all":                           true,
	string(session.StatusFilling):   true,
	string(session.StatusReady):     true,
	string(session.StatusPlaying):   true,
	string(session.StatusConcluded): true,
	storage.StatusAbandoned:         true,
}

// handleListSessions lists live sessions. With ?status= it reads the stored
// index instead, so concluded and abandoned sessions are listed too.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("status") {
		writeJSON(w, http.StatusOK, s.manager.List())
		return
	}
	status := r.URL.Query().Get("status")
	if !storedStatuses[status] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status: " + status})
		return
	}
	if status == "all" {
		status = ""
	}
	rows, err := s.manager.History(status)
	if err != nil {
		s.logger.Error("list stored sessions", zap.String("status", status), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list sessions failed"})
		return
	}
	out := make([]storedSession, 0, len(rows))
	for _, row := range rows {
		out = append(out, storedSession{
			Code:      row.Code,
			GameType:  row.GameType,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type createSessionRequest struct {
	GameType string          `json:"gameType"`
	Options  json.RawMessage `json:"options,omitempty"`
}

type createSessionResponse struct {
	Code string `json:"code"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.GameType = strings.TrimSpace(req.GameType)
	if req.GameType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "gameType required"})
		return
	}
	if _, ok := s.registry.Get(req.GameType); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown game type: " + req.GameType})
		return
	}

	sess, err := s.manager.Create(req.GameType, req.Options)
	if err != nil {
		s.logger.Error("create session", zap.String("game", req.GameType), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Code: sess.Code})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	sess, ok := s.manager.Get(code)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

type resultResponse struct {
	Code       string          `json:"code"`
	Draw       bool            `json:"draw"`
	WinnerID   string          `json:"winnerId,omitempty"`
	Moves      json.RawMessage `json:"moves"`
	FinishedAt time.Time       `json:"finishedAt"`
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	res, err := s.manager.Result(code)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "result not found"})
		return
	}
	if err != nil {
		s.logger.Error("load result", zap.String("session", code), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load result failed"})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Code:       res.SessionCode,
		Draw:       res.Draw,
		WinnerID:   res.WinnerID,
		Moves:      json.RawMessage(res.MovesJSON),
		FinishedAt: res.FinishedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
