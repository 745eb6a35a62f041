package core

import "context"

// ThreadStore persists threads. All mutations are append-only: messages are
// never rewritten or reordered and each user message carries at most one
// correction.
//
// Implementations must be safe for concurrent use and return snapshots from
// Get that callers may freely mutate. Lock provides the single-writer
// guarantee for the duration of a turn; the returned release func is
// idempotent.
type ThreadStore interface {
	// Create allocates an empty thread. ErrThreadExists if the id is taken.
	Create(ctx context.Context, id string) (*Thread, error)

	// Get returns a snapshot of the thread or ErrThreadNotFound.
	Get(ctx context.Context, id string) (*Thread, error)

	// AppendMessage appends msg and returns its position.
	AppendMessage(ctx context.Context, id string, msg Message) (int, error)

	// MergeCorrection attaches a correction to the user message it references.
	MergeCorrection(ctx context.Context, id string, c Correction) error

	// Delete removes the thread and everything it holds (explicit reset).
	Delete(ctx context.Context, id string) error

	// Lock blocks until the caller is the only writer of the thread or ctx is done.
	Lock(ctx context.Context, id string) (func(), error)
}
