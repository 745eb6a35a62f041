package core

import (
	"sync"
	"time"

	"github.com/hupe1980/speakmesh/logging"
)

// TurnContext carries the per-turn execution scope shared by graph nodes.
// It aggregates:
//   - Identifiers (thread, turn) and the original request
//   - The thread store nodes commit into
//   - The immutable thread snapshot nodes read from
//   - Outputs of already committed nodes, so successors can consume them
//
// Nodes never mutate the snapshot; they commit through Store and the engine
// records their outputs. All accessors are safe for concurrent use.
type TurnContext struct {
	turnLogger

	Turn    Turn
	Request TurnRequest
	Store   ThreadStore

	mu       sync.RWMutex
	snapshot *Thread
	user     *Message
	outputs  map[NodeID]any
}

// NewTurnContext constructs a TurnContext for req.
func NewTurnContext(turn Turn, req TurnRequest, store ThreadStore, logger logging.Logger) *TurnContext {
	if turn.Started.IsZero() {
		turn.Started = time.Now()
	}
	return &TurnContext{
		turnLogger: newTurnLogger(logger),
		Turn:       turn,
		Request:    req,
		Store:      store,
		outputs:    map[NodeID]any{},
	}
}

// Snapshot returns the thread as it was when the turn's user message was committed.
func (tc *TurnContext) Snapshot() *Thread {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.snapshot.Clone()
}

// SetSnapshot replaces the snapshot. Only called before concurrent branches start.
func (tc *TurnContext) SetSnapshot(t *Thread) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.snapshot = t.Clone()
}

// UserMessage returns the committed user message that triggered the turn.
func (tc *TurnContext) UserMessage() (Message, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.user == nil {
		return Message{}, false
	}
	return *tc.user, true
}

// SetUserMessage records the committed user message.
func (tc *TurnContext) SetUserMessage(m Message) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.user = &m
}

// Output returns the committed output of node id.
func (tc *TurnContext) Output(id NodeID) (any, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out, ok := tc.outputs[id]
	return out, ok
}

// SetOutput records the committed output of node id.
func (tc *TurnContext) SetOutput(id NodeID, out any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.outputs[id] = out
}

// turnLogger gives TurnContext its Log helpers. A nil logger discards.
type turnLogger struct {
	logger logging.Logger
}

func newTurnLogger(l logging.Logger) turnLogger {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return turnLogger{logger: l}
}

// Logger returns the logger of the turn.
func (l turnLogger) Logger() logging.Logger { return l.logger }

func (l turnLogger) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func (l turnLogger) LogWarn(msg string, args ...any) { l.logger.Warn(msg, args...) }
