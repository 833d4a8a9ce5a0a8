package session

import "errors"

var (
	// ErrUnknownCommand is returned for a wire string outside the command set.
	ErrUnknownCommand = errors.New("session: unknown command")

	// ErrStopped is returned when submitting to a session that is not running.
	ErrStopped = errors.New("session: stopped")
)
