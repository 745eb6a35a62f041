package journal

import "errors"

var (
	// ErrClosed is returned when emitting into a log that was already closed.
	ErrClosed = errors.New("journal log closed")
)
