package core

import "context"

// Submission is the server side handle of an accepted turn. Events yields the
// turn's events in publish order and is closed after the terminal event (or
// when the subscribing context ends).
type Submission struct {
	Turn     Turn
	Events   <-chan Event
	Replayed bool
}

// Runner coordinates turns on threads: validation, per-thread serialization,
// idempotent resubmission and event publication.
//
// Semantics & Guarantees:
//   - At most one open turn per thread; a second submission waits for the
//     thread lock or fails with ErrTurnInProgress.
//   - A submission repeating a known TurnID replays the events of the first
//     one instead of appending again.
//   - Dropping the returned Events channel never stops the turn.
type Runner interface {
	Submit(ctx context.Context, req TurnRequest) (*Submission, error)
}
