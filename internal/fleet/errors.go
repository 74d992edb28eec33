package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrNameCollision is returned when a nickname is already live.
	ErrNameCollision = errors.New("name already in use")
	// ErrCapacityExceeded is returned when the fleet is full.
	ErrCapacityExceeded = errors.New("fleet is at capacity")
	// ErrNotFound is returned when no live bot matches a lookup.
	ErrNotFound = errors.New("bot not found")
	// ErrAlreadyDisconnected is returned by DisconnectBot for a bot that is
	// already gone. Callers may treat it as success.
	ErrAlreadyDisconnected = errors.New("bot already disconnected")
	// ErrInvalidName is returned for nicknames outside [A-Za-z0-9_]{3,16}.
	ErrInvalidName = errors.New("invalid bot name")
	// ErrInvalidCount is returned by CreateBatch for a negative batch size.
	ErrInvalidCount = errors.New("batch size must not be negative")
)

// Error describes a failed fleet operation.
type Error struct {
	Op   string // "create", "find", "remove"
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
