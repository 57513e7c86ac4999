package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StatusAbandoned marks a session left open by a previous process.
const StatusAbandoned = "abandoned"

// SessionRow represents a session in the database.
type SessionRow struct {
	Code      string
	GameType  string
	Status    string // "filling", "ready", "playing", "concluded", "abandoned"
	CreatedAt time.Time
}

// ResultRow is the archived outcome of a concluded match.
type ResultRow struct {
	SessionCode string
	Draw        bool
	WinnerID    string // empty for a draw
	MovesJSON   string
	FinishedAt  time.Time
}

// Store handles SQLite persistence. Live match state is never stored; only
// the session index and the results of concluded matches.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			code       TEXT PRIMARY KEY,
			game_type  TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'filling',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS match_results (
			session_code TEXT PRIMARY KEY REFERENCES sessions(code),
			draw         INTEGER NOT NULL,
			winner_id    TEXT NOT NULL DEFAULT '',
			moves_json   TEXT NOT NULL,
			finished_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(code, gameType string) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (code, game_type, status) VALUES (?, ?, 'filling')",
		code, gameType,
	)
	return err
}

// GetSession retrieves a session by code.
func (s *Store) GetSession(code string) (*SessionRow, error) {
	row := s.db.QueryRow("SELECT code, game_type, status, created_at FROM sessions WHERE code = ?", code)
	var sr SessionRow
	if err := row.Scan(&sr.Code, &sr.GameType, &sr.Status, &sr.CreatedAt); err != nil {
		return nil, err
	}
	return &sr, nil
}

// UpdateSessionStatus changes a session's status.
func (s *Store) UpdateSessionStatus(code, status string) error {
	_, err := s.db.Exec("UPDATE sessions SET status = ? WHERE code = ?", status, code)
	return err
}

// ListSessions returns all sessions with the given status (or all if status is empty).
func (s *Store) ListSessions(status string) ([]SessionRow, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query("SELECT code, game_type, status, created_at FROM sessions ORDER BY created_at DESC")
	} else {
		rows, err = s.db.Query("SELECT code, game_type, status, created_at FROM sessions WHERE status = ? ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []SessionRow
	for rows.Next() {
		var sr SessionRow
		if err := rows.Scan(&sr.Code, &sr.GameType, &sr.Status, &sr.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sr)
	}
	return result, rows.Err()
}

// MarkAbandoned flags every session that never concluded. Returns the
// number of sessions changed.
func (s *Store) MarkAbandoned() (int64, error) {
	res, err := s.db.Exec(
		"UPDATE sessions SET status = ? WHERE status NOT IN ('concluded', ?)",
		StatusAbandoned, StatusAbandoned,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveResult upserts the outcome of a concluded match.
func (s *Store) SaveResult(r ResultRow) error {
	_, err := s.db.Exec(`
		INSERT INTO match_results (session_code, draw, winner_id, moves_json, finished_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_code) DO UPDATE SET
			draw = excluded.draw,
			winner_id = excluded.winner_id,
			moves_json = excluded.moves_json,
			finished_at = excluded.finished_at
	`, r.SessionCode, r.Draw, r.WinnerID, r.MovesJSON)
	return err
}

// GetResult retrieves an archived result.
func (s *Store) GetResult(sessionCode string) (*ResultRow, error) {
	row := s.db.QueryRow(
		"SELECT session_code, draw, winner_id, moves_json, finished_at FROM match_results WHERE session_code = ?",
		sessionCode,
	)
	var r ResultRow
	if err := row.Scan(&r.SessionCode, &r.Draw, &r.WinnerID, &r.MovesJSON, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteSession removes a session and its result.
func (s *Store) DeleteSession(code string) error {
	_, err := s.db.Exec("DELETE FROM match_results WHERE session_code = ?", code)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("DELETE FROM sessions WHERE code = ?", code)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
