package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

// Sink receives published events in order.
type Sink interface {
	Emit(ev core.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev core.Event) error

// Emit calls f(ev).
func (f SinkFunc) Emit(ev core.Event) error { return f(ev) }

// DefaultErrorMessages are the user-facing texts of error events per role.
var DefaultErrorMessages = map[core.ErrorRole]string{
	core.RoleTranscription:  "We couldn't understand the recording. Please try again.",
	core.RoleClassification: "Message screening is unavailable right now, continuing anyway.",
	core.RoleReply:          "Your conversation partner couldn't reply right now. Please try again.",
	core.RoleCorrection:     "Grammar feedback is unavailable for this message.",
	core.RoleAudio:          "Audio is unavailable for this reply.",
	core.RoleTurn:           "Something went wrong with this turn.",
}

// PublisherOptions configure a Publisher.
type PublisherOptions struct {
	Logger        logging.Logger
	ErrorMessages map[core.ErrorRole]string
}

// Publisher converts a turn's node results into events.
type Publisher struct {
	logger   logging.Logger
	messages map[core.ErrorRole]string
}

// NewPublisher creates a Publisher.
func NewPublisher(optFns ...func(o *PublisherOptions)) *Publisher {
	opts := PublisherOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	messages := make(map[core.ErrorRole]string, len(DefaultErrorMessages))
	for k, v := range DefaultErrorMessages {
		messages[k] = v
	}
	for k, v := range opts.ErrorMessages {
		messages[k] = v
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Publisher{logger: logger, messages: messages}
}

// Publish forwards one event per result to sink, preceded by thread_id for a
// new thread and followed by exactly one complete event once results is
// closed. It always drains results, even after the sink failed, so the
// engine never blocks; the first sink error is returned.
func (p *Publisher) Publish(ctx context.Context, turn core.Turn, results <-chan core.NodeResult, sink Sink) error {
	logger := logging.FromContextOr(ctx, p.logger)

	var firstErr error
	emit := func(ev core.Event) {
		if err := sink.Emit(ev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("emit %s: %w", ev.Type, err)
			logger.Warn("Event sink failed", "thread_id", turn.ThreadID, "turn_id", turn.TurnID, "event", string(ev.Type), "error", err.Error())
		}
	}

	if turn.NewThread {
		emit(core.ThreadIDEvent(turn.ThreadID))
	}
	for r := range results {
		ev, ok := p.EventFor(r)
		if !ok {
			continue
		}
		if r.Failed() {
			logger.Warn("Node failed", "thread_id", turn.ThreadID, "turn_id", turn.TurnID, "node", string(r.Node), "fatal", r.Fatal, "error", r.Err.Error())
		}
		emit(ev)
	}
	emit(core.CompleteEvent())
	return firstErr
}

// EventFor maps a node result to its event. Successful classification has no
// event of its own.
func (p *Publisher) EventFor(r core.NodeResult) (core.Event, bool) {
	if r.Failed() {
		return p.errorEvent(r.Node.Role(), r.Err), true
	}
	switch out := r.Output.(type) {
	case core.Transcript:
		return core.TranscriptionEvent(out.Text, out.At), true
	case core.Verdict:
		return core.Event{}, false
	case core.Reply:
		return core.ChatResponseEvent(out.Message.Content), true
	case core.Analysis:
		return core.CorrectionEvent(out.Correction), true
	case core.Speech:
		return core.AudioChunkEvent(out.Audio, out.Format), true
	default:
		return p.errorEvent(r.Node.Role(), fmt.Errorf("unexpected output %T from %s", r.Output, r.Node)), true
	}
}

func (p *Publisher) errorEvent(role core.ErrorRole, err error) core.Event {
	msg, ok := p.messages[role]
	if !ok {
		msg = p.messages[core.RoleTurn]
	}
	if errors.Is(err, adapter.ErrTimeout) {
		msg += " (timed out)"
	}
	return core.ErrorEvent(role, msg)
}
