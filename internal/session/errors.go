package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCommand is returned when a create request's command is not a string.
	ErrInvalidCommand = fmt.Errorf("command must be a string")
	// ErrInvalidArgs is returned when a create request's args are not a sequence of strings.
	ErrInvalidArgs = fmt.Errorf("command args must be an array of strings")
	// ErrCommandNotAllowed is returned when the command is not on the allow-list.
	ErrCommandNotAllowed = fmt.Errorf("command not allowed")
	// ErrLimitExceeded is returned when the per-session or global terminal bound is reached.
	ErrLimitExceeded = fmt.Errorf("terminal limit")
	// ErrSpawnFailed is returned when the OS refuses to start the process.
	ErrSpawnFailed = fmt.Errorf("spawn failed")
	// ErrUnknownTerminal is returned by queries naming a terminal the session does not own.
	ErrUnknownTerminal = fmt.Errorf("unknown terminal")
	// ErrSessionClosed is returned for requests that reach a session after disconnect began.
	ErrSessionClosed = fmt.Errorf("session closed")
)

// Wire error codes.
const (
	CodeInvalidCommand    = "InvalidCommand"
	CodeInvalidArgs       = "InvalidArgs"
	CodeCommandNotAllowed = "CommandNotAllowed"
	CodeLimitExceeded     = "LimitExceeded"
	CodeSpawnFailed       = "SpawnFailed"
	CodeUnknownTerminal   = "UnknownTerminal"
	CodeSessionClosed     = "SessionClosed"
	CodeInternal          = "Internal"
)

// ErrorCode maps an error returned by this package to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCommand):
		return CodeInvalidCommand
	case errors.Is(err, ErrInvalidArgs):
		return CodeInvalidArgs
	case errors.Is(err, ErrCommandNotAllowed):
		return CodeCommandNotAllowed
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrSpawnFailed):
		return CodeSpawnFailed
	case errors.Is(err, ErrUnknownTerminal):
		return CodeUnknownTerminal
	case errors.Is(err, ErrSessionClosed):
		return CodeSessionClosed
	default:
		return CodeInternal
	}
}
