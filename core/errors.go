package core

import "errors"

var (
	// ErrThreadNotFound is returned when no thread exists for an id.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadExists is returned by Create when the id is already taken.
	ErrThreadExists = errors.New("thread already exists")

	// ErrInvalidThreadID is returned for ids that are empty, too long or
	// contain characters outside [A-Za-z0-9_-].
	ErrInvalidThreadID = errors.New("invalid thread id")

	// ErrDuplicateCorrection is returned when a user message already carries a correction.
	ErrDuplicateCorrection = errors.New("message already has a correction")

	// ErrInvalidReference is returned when a correction points at a missing or
	// non-user message.
	ErrInvalidReference = errors.New("correction must reference an existing user message")

	// ErrStoreUnavailable wraps backend failures of a ThreadStore.
	ErrStoreUnavailable = errors.New("thread store unavailable")

	// ErrInvalidInput is returned for submissions rejected before a turn exists.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTurnInProgress is returned when another turn holds the thread.
	ErrTurnInProgress = errors.New("another turn is in progress on this thread")
)
