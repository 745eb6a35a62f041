// Package engine executes a conversation turn as a small fixed graph of
// nodes: transcription (audio only), classification, reply generation,
// grammar analysis, redirection and speech synthesis.
//
// Execution model:
//   - Every scheduled node runs on its own goroutine. Independent branches
//     (reply and analysis) run concurrently and their results are delivered
//     in completion order, so a fast analysis is never held back by a slow
//     reply or the other way around.
//   - A node's Run is bounded by adapter.Invoke (timeout and panic
//     recovery) and reads only the immutable thread snapshot taken after the
//     user message was committed.
//   - A node's Commit merges its output into the thread store. The result
//     is sent only after the commit returned, so anything a client sees is
//     already durable. The commit deadline is passed to the store through
//     ctx and the engine always waits for the store call to return.
//   - A failed node is data, not an exception: its result carries the error
//     and sibling branches carry on. A failed commit is fatal and stops
//     further scheduling, while already running siblings still finish.
//   - The result channel is closed once every scheduled node resolved. That
//     close is the turn's terminal signal.
//
// Lifecycle hooks (CallbackManager) provide logging and Prometheus metrics;
// each node and each turn runs inside an OpenTelemetry span.
package engine
