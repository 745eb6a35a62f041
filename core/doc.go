// Package core provides the foundational domain types and contracts used by
// speakmesh. It defines:
//
//   - Threads (append-only message history plus corrections)
//   - Turns, node ids and node execution records
//   - Events (the closed, typed records streamed to clients)
//   - TurnContext (the per-turn scope shared by graph nodes)
//   - Contracts for thread stores, the turn engine and the turn runner
//
// Implementation concerns (persistence backends, graph execution, transport)
// live in sibling packages behind these small interfaces.
package core
