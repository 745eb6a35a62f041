package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/metrics"
)

const tracerName = "github.com/hupe1980/speakmesh/engine"

// Default time budgets.
const (
	DefaultNodeTimeout   = 30 * time.Second
	DefaultCommitTimeout = 10 * time.Second
)

// Options configures an Engine using the functional options pattern.
//
// Store and the three required adapters (classifier, generator, analyzer)
// must be set; everything else has a default.
type Options struct {
	// Store is the thread store nodes commit into.
	Store core.ThreadStore

	// Adapters feed the default graph. Ignored when Graph is set.
	Adapters Adapters

	// Graph replaces the default graph.
	Graph *Graph

	// NodeTimeout bounds each node's Run. NodeTimeouts overrides it per node.
	NodeTimeout  time.Duration
	NodeTimeouts map[core.NodeID]time.Duration

	// CommitTimeout bounds each node's Commit.
	CommitTimeout time.Duration

	// Logger receives node and turn logs. Defaults to a NoOpLogger.
	Logger logging.Logger

	// Metrics records node latency and failures when set.
	Metrics *metrics.Metrics

	// Callbacks receives the lifecycle hooks. Logging and metrics callbacks
	// are registered into it.
	Callbacks *CallbackManager

	// Tracer creates node spans. Defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
}

// Engine executes the turn graph. It is safe for concurrent use; callers
// serialize turns of one thread (see core.ThreadStore.Lock).
type Engine struct {
	store         core.ThreadStore
	graph         *Graph
	nodeTimeout   time.Duration
	nodeTimeouts  map[core.NodeID]time.Duration
	commitTimeout time.Duration
	logger        logging.Logger
	callbacks     *CallbackManager
	tracer        trace.Tracer
}

var _ core.Engine = (*Engine)(nil)

// New creates an Engine.
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		NodeTimeout:   DefaultNodeTimeout,
		CommitTimeout: DefaultCommitTimeout,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		return nil, errors.New("engine requires a thread store")
	}
	graph := opts.Graph
	if graph == nil {
		if err := opts.Adapters.validate(); err != nil {
			return nil, err
		}
		graph = DefaultGraph(opts.Adapters)
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if _, noop := opts.Logger.(logging.NoOpLogger); !noop {
		RegisterLogging(opts.Callbacks, opts.Logger)
	}
	RegisterMetrics(opts.Callbacks, opts.Metrics)
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		store:         opts.Store,
		graph:         graph,
		nodeTimeout:   opts.NodeTimeout,
		nodeTimeouts:  opts.NodeTimeouts,
		commitTimeout: opts.CommitTimeout,
		logger:        opts.Logger,
		callbacks:     opts.Callbacks,
		tracer:        opts.Tracer,
	}, nil
}

// Store returns the thread store the engine commits into.
func (e *Engine) Store() core.ThreadStore { return e.store }

// Run starts a turn for req.
//
// Before returning it validates the request, loads or creates the thread and,
// for text input, commits the user message. Failures up to that point are
// returned directly and leave no trace in the thread. Audio input is resolved
// by the transcribe node, whose commit appends the user message.
//
// The returned channel yields one result per executed node in completion
// order. Every result is sent after its commit, and the channel is closed
// once all scheduled nodes resolved. The turn keeps running when the caller
// stops reading; the channel is buffered for every node of the graph.
func (e *Engine) Run(ctx context.Context, req core.TurnRequest) (*core.Turn, <-chan core.NodeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if req.IsAudio() && !e.graph.AcceptsAudio() {
		return nil, nil, fmt.Errorf("%w: audio input is not supported", core.ErrInvalidInput)
	}
	if req.ThreadID == "" {
		req.ThreadID = core.NewID()
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	th, created, err := e.ensureThread(ctx, req.ThreadID)
	if err != nil {
		return nil, nil, err
	}
	turn := core.Turn{ThreadID: req.ThreadID, TurnID: req.TurnID, NewThread: created, Started: time.Now()}

	logger := e.logger
	if sl, ok := logger.(*logging.ServiceLogger); ok {
		logger = sl.WithTurn(turn.ThreadID, turn.TurnID)
	}
	tc := core.NewTurnContext(turn, req, e.store, logger)
	tc.SetSnapshot(th)

	if !req.IsAudio() {
		if _, err := commitUserMessage(ctx, tc, strings.TrimSpace(req.Text)); err != nil {
			return nil, nil, err
		}
	}

	ctx, span := e.tracer.Start(ctx, "speakmesh.turn", trace.WithAttributes(
		attribute.String("speakmesh.thread_id", turn.ThreadID),
		attribute.String("speakmesh.turn_id", turn.TurnID),
		attribute.Bool("speakmesh.audio", req.IsAudio()),
	))

	x := &execution{
		engine:    e,
		ctx:       ctx,
		tc:        tc,
		out:       make(chan core.NodeResult, e.graph.Len()),
		scheduled: make(map[core.NodeID]bool, e.graph.Len()),
	}
	x.schedule(e.graph.EntryFor(req))

	go func() {
		x.wg.Wait()
		results := x.snapshot()
		failures := countFailures(results)
		span.SetAttributes(attribute.Int("speakmesh.nodes", len(results)), attribute.Int("speakmesh.failures", failures))
		if failures > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d node(s) failed", failures))
		}
		x.callback(CallbackOnTurnComplete, &CallbackContext{Turn: tc, Results: results, Duration: time.Since(turn.Started)})
		span.End()
		close(x.out)
	}()

	return &turn, x.out, nil
}

// ensureThread loads the thread or creates it when unknown.
func (e *Engine) ensureThread(ctx context.Context, id string) (*core.Thread, bool, error) {
	th, err := e.store.Get(ctx, id)
	if err == nil {
		return th, false, nil
	}
	if !errors.Is(err, core.ErrThreadNotFound) {
		return nil, false, fmt.Errorf("load thread: %w", err)
	}
	th, err = e.store.Create(ctx, id)
	if errors.Is(err, core.ErrThreadExists) {
		th, err = e.store.Get(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("load thread: %w", err)
		}
		return th, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	return th, true, nil
}

func (e *Engine) timeoutFor(id core.NodeID) time.Duration {
	if d, ok := e.nodeTimeouts[id]; ok {
		return d
	}
	return e.nodeTimeout
}

// execution is the state of one running turn.
type execution struct {
	engine *Engine
	ctx    context.Context
	tc     *core.TurnContext
	out    chan core.NodeResult
	wg     sync.WaitGroup
	halted atomic.Bool

	mu        sync.Mutex
	scheduled map[core.NodeID]bool
	results   []core.NodeResult
}

// schedule starts id unless the turn halted or id already ran.
func (x *execution) schedule(id core.NodeID) {
	if x.halted.Load() {
		return
	}
	x.mu.Lock()
	if x.scheduled[id] {
		x.mu.Unlock()
		return
	}
	if !x.engine.graph.Has(id) {
		x.mu.Unlock()
		x.tc.LogWarn("Route selected unknown node", "node", string(id))
		return
	}
	x.scheduled[id] = true
	x.wg.Add(1)
	x.mu.Unlock()

	go x.run(id)
}

func (x *execution) run(id core.NodeID) {
	defer x.wg.Done()
	e := x.engine
	node := e.graph.nodes[id]

	ctx, span := e.tracer.Start(x.ctx, "speakmesh.node."+string(id), trace.WithAttributes(
		attribute.String("speakmesh.node", string(id)),
	))
	defer span.End()

	res := core.NodeResult{Node: id, Started: time.Now()}
	cb := &CallbackContext{Turn: x.tc, Node: id}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeNode, cb); err != nil {
		res.Err = fmt.Errorf("before %s: %w", id, err)
	} else {
		out, err := adapter.Invoke(ctx, e.timeoutFor(id), func(ctx context.Context) (any, error) {
			return node.Run(ctx, x.tc)
		})
		if err != nil {
			res.Err = err
		} else {
			committed, err := x.commit(ctx, node, out)
			if err != nil {
				res.Err = err
				res.Fatal = true
			} else {
				res.Output = committed
				x.tc.SetOutput(id, committed)
			}
		}
	}
	res.Completed = time.Now()

	if res.Failed() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		span.SetAttributes(attribute.Bool("speakmesh.fatal", res.Fatal))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	x.mu.Lock()
	x.results = append(x.results, res)
	x.mu.Unlock()

	cb.Result = &res
	cb.Duration = res.Duration()
	if res.Failed() {
		x.callback(CallbackOnNodeError, cb)
	}
	x.callback(CallbackAfterNode, cb)

	if res.Fatal {
		x.halted.Store(true)
	}
	x.out <- res

	for _, next := range e.graph.successors(res, x.tc) {
		x.schedule(next)
	}
}

// commit merges a node's output and returns only once the store call did.
// The deadline is enforced by the store honouring ctx, so a write can never
// land after its result was published.
func (x *execution) commit(ctx context.Context, node Node, out any) (committed any, err error) {
	ctx, cancel := context.WithTimeout(ctx, x.engine.commitTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			committed, err = nil, &adapter.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	committed, err = node.Commit(ctx, x.tc, out)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", node.ID(), err)
	}
	return committed, nil
}

func (x *execution) callback(t CallbackType, cb *CallbackContext) {
	if err := x.engine.callbacks.ExecuteCallbacks(x.ctx, t, cb); err != nil {
		x.tc.LogWarn("Callback failed", "callback", string(t), "node", string(cb.Node), "error", err.Error())
	}
}

func (x *execution) snapshot() []core.NodeResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]core.NodeResult(nil), x.results...)
}
