package game

import "errors"

var (
	// ErrNotReady is returned when engine context or settings are read before setup.
	ErrNotReady = errors.New("engine not ready")
	// ErrAlreadySetUp is returned by a second call to Setup.
	ErrAlreadySetUp = errors.New("engine already set up")
	// ErrInvalidSettings is returned when setup cannot seat the given roster.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrInvalidMove is returned by Move for any rejected turn. State is unchanged.
	ErrInvalidMove = errors.New("invalid move")
)
