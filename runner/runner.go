package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/journal"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/metrics"
	"github.com/hupe1980/speakmesh/stream"
)

// Default time budgets.
const (
	DefaultLockTimeout = 10 * time.Second
	DefaultTurnTimeout = 2 * time.Minute
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Journal records the events of every turn for resubmission. A store with
	// default capacity is created when nil.
	Journal *journal.Store
	// Publisher converts node results into events.
	Publisher *stream.Publisher
	// LockTimeout bounds the wait for a thread held by another turn.
	LockTimeout time.Duration
	// TurnTimeout bounds a whole turn, independent of the submitting request.
	TurnTimeout time.Duration
	// Logging services.
	Logger logging.Logger
	// Metrics records active turns, outcomes and replays when set.
	Metrics *metrics.Metrics
}

// Runner coordinates turns: validates submissions, serializes turns per
// thread, answers resubmitted turn ids from the journal or the stored thread
// and runs the engine detached from the submitting request. Public methods
// are safe for concurrent use.
type Runner struct {
	engine      core.Engine
	store       core.ThreadStore
	journal     *journal.Store
	publisher   *stream.Publisher
	lockTimeout time.Duration
	turnTimeout time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
}

var _ core.Runner = (*Runner)(nil)

// New constructs a Runner with optional overrides.
func New(engine core.Engine, store core.ThreadStore, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		LockTimeout: DefaultLockTimeout,
		TurnTimeout: DefaultTurnTimeout,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if engine == nil || store == nil {
		return nil, errors.New("runner requires an engine and a thread store")
	}
	if opts.Journal == nil {
		j, err := journal.NewStore()
		if err != nil {
			return nil, err
		}
		opts.Journal = j
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Publisher == nil {
		opts.Publisher = stream.NewPublisher(func(o *stream.PublisherOptions) { o.Logger = opts.Logger })
	}

	return &Runner{
		engine:      engine,
		store:       store,
		journal:     opts.Journal,
		publisher:   opts.Publisher,
		lockTimeout: opts.LockTimeout,
		turnTimeout: opts.TurnTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// Submit starts a turn for req, or replays it when req.TurnID is already
// known. Errors are returned only before a turn exists: invalid input
// (core.ErrInvalidInput), a thread held by another turn
// (core.ErrTurnInProgress) or a failing store.
//
// The turn runs to completion even if ctx ends or Events is never read.
func (r *Runner) Submit(ctx context.Context, req core.TurnRequest) (*core.Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TurnID != "" {
		if sub, ok, err := r.replayJournal(ctx, req); ok || err != nil {
			return sub, err
		}
	}
	if req.ThreadID == "" {
		req.ThreadID = core.NewID()
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	release, err := r.lock(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}

	// A duplicate may have finished while this submission waited.
	if sub, ok, err := r.replayJournal(ctx, req); ok || err != nil {
		release()
		return sub, err
	}
	th, err := r.store.Get(ctx, req.ThreadID)
	switch {
	case err == nil && th.HasTurn(req.TurnID):
		release()
		r.metrics.IncReplay(metrics.ReplayState)
		return r.replayState(th, req), nil
	case err != nil && !errors.Is(err, core.ErrThreadNotFound):
		release()
		return nil, fmt.Errorf("load thread: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.turnTimeout)
	turn, results, err := r.engine.Run(runCtx, req)
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	log, _ := r.journal.Open(turn.TurnID, turn.ThreadID)
	r.metrics.TurnStarted()
	r.logger.Debug("Turn started", "thread_id", turn.ThreadID, "turn_id", turn.TurnID, "new_thread", turn.NewThread)

	go func() {
		defer cancel()

		degraded := false
		sink := stream.SinkFunc(func(ev core.Event) error {
			if ev.Type == core.EventError {
				degraded = true
			}
			return log.Emit(ev)
		})
		err := r.publisher.Publish(runCtx, *turn, results, sink)
		release()
		log.Close()

		outcome := metrics.OutcomeOK
		switch {
		case err != nil:
			outcome = metrics.OutcomeFailed
			r.logger.Error("Turn publication failed", "thread_id", turn.ThreadID, "turn_id", turn.TurnID, "error", err.Error())
		case degraded:
			outcome = metrics.OutcomeDegraded
		}
		r.metrics.TurnFinished(outcome)
	}()

	return &core.Submission{Turn: *turn, Events: log.Subscribe(ctx)}, nil
}

// Reset deletes a thread and forgets the journaled turns that ran on it.
func (r *Runner) Reset(ctx context.Context, threadID string) error {
	if err := core.ValidateID(threadID); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	release, err := r.lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()
	if err := r.store.Delete(ctx, threadID); err != nil {
		return err
	}
	n := r.journal.Discard(threadID)
	r.logger.Info("Thread reset", "thread_id", threadID, "discarded_turns", n)
	return nil
}

func (r *Runner) lock(ctx context.Context, threadID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	release, err := r.store.Lock(lockCtx, threadID)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, core.ErrTurnInProgress
	}
	return nil, fmt.Errorf("lock thread: %w", err)
}

// replayJournal answers a known turn id from the journal. A submission without
// a thread id adopts the journaled one.
func (r *Runner) replayJournal(ctx context.Context, req core.TurnRequest) (*core.Submission, bool, error) {
	log, ok := r.journal.Lookup(req.TurnID)
	if !ok {
		return nil, false, nil
	}
	if req.ThreadID != "" && req.ThreadID != log.ThreadID() {
		return nil, false, fmt.Errorf("%w: turn %s belongs to another thread", core.ErrInvalidInput, req.TurnID)
	}
	r.metrics.IncReplay(metrics.ReplayJournal)
	r.logger.Debug("Replaying turn from journal", "thread_id", log.ThreadID(), "turn_id", req.TurnID)
	return &core.Submission{
		Turn:     core.Turn{ThreadID: log.ThreadID(), TurnID: req.TurnID},
		Events:   log.Subscribe(ctx),
		Replayed: true,
	}, true, nil
}

// replayState rebuilds the events of a turn that already ran on th but is no
// longer journaled.
func (r *Runner) replayState(th *core.Thread, req core.TurnRequest) *core.Submission {
	msgs := th.TurnMessages(req.TurnID)
	turn := core.Turn{ThreadID: th.ID, TurnID: req.TurnID}

	var events []core.Event
	var user core.Message
	var reply *core.Message
	for i, m := range msgs {
		switch m.Role {
		case core.RoleUser:
			user = m
		case core.RoleAssistant:
			if reply == nil {
				reply = &msgs[i]
			}
		}
	}
	turn.Started = user.Created
	if user.Position == 0 {
		events = append(events, core.ThreadIDEvent(th.ID))
	}
	if req.IsAudio() {
		events = append(events, core.TranscriptionEvent(user.Content, user.Created))
	}
	if reply != nil {
		events = append(events, core.ChatResponseEvent(reply.Content))
	} else {
		events = append(events, core.ErrorEvent(core.RoleReply, stream.DefaultErrorMessages[core.RoleReply]))
	}
	if c, ok := th.CorrectionFor(user.Position); ok {
		events = append(events, core.CorrectionEvent(c))
	}
	events = append(events, core.CompleteEvent())

	r.logger.Debug("Replaying turn from thread state", "thread_id", th.ID, "turn_id", req.TurnID, "events", len(events))

	ch := make(chan core.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &core.Submission{Turn: turn, Events: ch, Replayed: true}
}
