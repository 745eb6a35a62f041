package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/metrics"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into turn execution without modifying the graph:
//   - BeforeNode: before a node runs. An error fails the node without running it.
//   - AfterNode: after a node resolved, successful or not.
//   - OnNodeError: after a node failed.
//   - OnTurnComplete: once every scheduled node resolved.
//
// Only BeforeNode errors influence execution; errors from the other points
// are logged.
type CallbackType string

const (
	CallbackBeforeNode     CallbackType = "before_node"
	CallbackAfterNode      CallbackType = "after_node"
	CallbackOnNodeError    CallbackType = "on_node_error"
	CallbackOnTurnComplete CallbackType = "on_turn_complete"
)

// CallbackContext carries what a callback may inspect.
type CallbackContext struct {
	// Turn is the executing turn. Never nil.
	Turn *core.TurnContext

	// Node is the node concerned; empty for OnTurnComplete.
	Node core.NodeID

	// Result is set for AfterNode and OnNodeError.
	Result *core.NodeResult

	// Results holds every node result in completion order for OnTurnComplete.
	Results []core.NodeResult

	// Duration is the node (or whole turn) wall time, when known.
	Duration time.Duration

	CallbackType CallbackType
}

// Callback is a lifecycle hook. Callbacks run synchronously on the node's
// goroutine and must be safe for concurrent use.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a function based callback for callbackType.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cbCtx *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager is the registry of callbacks. Registration is safe while
// turns are executing; callbacks of one type run in registration order and
// stop at the first error.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds cb for its type.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs the callbacks registered for callbackType.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	cbCtx.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}

// nodeLogger is implemented by logging.ServiceLogger.
type nodeLogger interface {
	LogNodeExecution(node string, dur time.Duration, err error)
	LogTurn(nodes, failures int, dur time.Duration)
}

// RegisterLogging registers callbacks that log every node outcome and a
// per-turn summary. A *logging.ServiceLogger gets its domain helpers; any
// other logger receives plain key/value records.
func RegisterLogging(cm *CallbackManager, logger logging.Logger) {
	if logger == nil {
		return
	}
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterNode, func(_ context.Context, cb *CallbackContext) error {
		r := cb.Result
		if nl, ok := logger.(nodeLogger); ok {
			nl.LogNodeExecution(string(r.Node), r.Duration(), r.Err)
			return nil
		}
		if r.Failed() {
			logger.Warn("Node execution failed", "thread_id", cb.Turn.Turn.ThreadID, "turn_id", cb.Turn.Turn.TurnID,
				"node", string(r.Node), "duration", r.Duration(), "fatal", r.Fatal, "error", r.Err.Error())
			return nil
		}
		logger.Debug("Node execution completed", "thread_id", cb.Turn.Turn.ThreadID, "turn_id", cb.Turn.Turn.TurnID,
			"node", string(r.Node), "duration", r.Duration())
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnTurnComplete, func(_ context.Context, cb *CallbackContext) error {
		failures := countFailures(cb.Results)
		if nl, ok := logger.(nodeLogger); ok {
			nl.LogTurn(len(cb.Results), failures, cb.Duration)
			return nil
		}
		logger.Info("Turn completed", "thread_id", cb.Turn.Turn.ThreadID, "turn_id", cb.Turn.Turn.TurnID,
			"node_count", len(cb.Results), "failure_count", failures, "duration", cb.Duration)
		return nil
	}))
}

// RegisterMetrics registers callbacks recording node latency and failures.
func RegisterMetrics(cm *CallbackManager, m *metrics.Metrics) {
	if m == nil {
		return
	}
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterNode, func(_ context.Context, cb *CallbackContext) error {
		status := "ok"
		if cb.Result.Failed() {
			status = "error"
		}
		m.ObserveNode(string(cb.Result.Node), status, cb.Result.Duration())
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnNodeError, func(_ context.Context, cb *CallbackContext) error {
		m.IncNodeFailure(string(cb.Result.Node), failureReason(cb.Result))
		return nil
	}))
}

func countFailures(results []core.NodeResult) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}

func failureReason(r *core.NodeResult) string {
	var pe *adapter.PanicError
	switch {
	case r.Fatal:
		return "commit"
	case errors.Is(r.Err, adapter.ErrTimeout):
		return "timeout"
	case errors.As(r.Err, &pe):
		return "panic"
	default:
		return "error"
	}
}
