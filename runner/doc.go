// Package runner implements the turn coordination layer of speakmesh.
//
// The Runner sits between the transport and the engine. For every submission
// it:
//   - validates the request before anything is written;
//   - takes the thread lock so at most one turn per thread is open, waiting a
//     bounded time before answering core.ErrTurnInProgress;
//   - treats the turn id as an idempotency token: a resubmitted turn is
//     replayed from the journal while it is retained, or rebuilt from the
//     stored thread afterwards, and never appends a second user message;
//   - runs the engine on a context detached from the request, so a client
//     that disconnects mid-turn still finds the reply and correction in the
//     thread when it comes back;
//   - publishes the turn's events into the journal, which every subscriber
//     (the original request and any resumption) reads from.
//
// See runner.go for the operational implementation details.
package runner
