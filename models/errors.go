package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotActive           = errors.New("action not valid in current phase")
	ErrInsufficientPlayers = errors.New("insufficient players")
	ErrNotFound            = errors.New("participant not found")
	ErrNotHost             = errors.New("only the host can do this")
	ErrEmptyWordPool       = errors.New("word pool is empty")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomNotFound        = errors.New("room not found")
	ErrShuttingDown        = errors.New("server is shutting down")
)

// ValidationError reports bad user input. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var (
	ErrSelfVote    = &ValidationError{Field: "target", Reason: "cannot vote for yourself"}
	ErrEmptyName   = &ValidationError{Field: "name", Reason: "must not be empty"}
	ErrNameTooLong = &ValidationError{Field: "name", Reason: "too long"}
)

// ErrorCode maps an error to the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrInsufficientPlayers):
		return "insufficient_players"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrShuttingDown):
		return "shutting_down"
	default:
		return "internal"
	}
}
