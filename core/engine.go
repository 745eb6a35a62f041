package core

import "context"

// Engine executes the turn graph for one submission.
//
// A concrete implementation is responsible for:
//   - Loading or creating the thread and committing the user message
//   - Running the entry node and evaluating routing decisions
//   - Running independent branches concurrently
//   - Committing each node's output before reporting it
//
// The immediate error covers invalid input and store unavailability before the
// turn starts. The returned channel carries one NodeResult per executed node
// in completion order and is closed exactly once, after every scheduled node
// resolved. Closing the channel is the turn's terminal signal.
type Engine interface {
	Run(ctx context.Context, req TurnRequest) (*Turn, <-chan NodeResult, error)
}
