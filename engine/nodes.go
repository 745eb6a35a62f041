package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
)

// DefaultRedirect is sent when a classifier diverts without supplying its own reply.
const DefaultRedirect = "Let's talk about something else! What did you do last weekend?"

// Adapters are the task adapters the default graph calls. Transcriber and
// Synthesizer are optional: without a Transcriber audio turns are rejected,
// without a Synthesizer no speech is produced.
type Adapters struct {
	Classifier  adapter.Classifier
	Generator   adapter.Generator
	Analyzer    adapter.Analyzer
	Transcriber adapter.Transcriber
	Synthesizer adapter.Synthesizer
}

func (a Adapters) validate() error {
	var missing []string
	if a.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if a.Generator == nil {
		missing = append(missing, "generator")
	}
	if a.Analyzer == nil {
		missing = append(missing, "analyzer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("engine requires adapters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultGraph wires the conversation turn:
//
//	[transcribe] -> classify -> allowed:  generate (-> synthesize), analyze
//	                         -> diverted: redirect
//
// A failed classification proceeds as allowed.
func DefaultGraph(a Adapters) *Graph {
	g := NewGraph(core.NodeClassify).
		AddNode(&classifyNode{classifier: a.Classifier}).
		AddNode(&generateNode{generator: a.Generator}).
		AddNode(&analyzeNode{analyzer: a.Analyzer}).
		AddNode(&redirectNode{})

	if a.Transcriber != nil {
		g.AddNode(&transcribeNode{transcriber: a.Transcriber}).
			AudioEntry(core.NodeTranscribe).
			Then(core.NodeTranscribe, core.NodeClassify)
	}
	if a.Synthesizer != nil {
		g.AddNode(&synthesizeNode{synthesizer: a.Synthesizer})
	}

	g.Route(core.NodeClassify, func(r core.NodeResult, _ *core.TurnContext) []core.NodeID {
		if v, ok := r.Output.(core.Verdict); ok && !r.Failed() && !v.Allowed {
			return []core.NodeID{core.NodeRedirect}
		}
		return []core.NodeID{core.NodeGenerate, core.NodeAnalyze}
	})
	g.Route(core.NodeGenerate, func(r core.NodeResult, tc *core.TurnContext) []core.NodeID {
		reply, ok := r.Output.(core.Reply)
		if r.Failed() || !ok || reply.Message.Content == "" || !tc.Request.Speak || !g.Has(core.NodeSynthesize) {
			return nil
		}
		return []core.NodeID{core.NodeSynthesize}
	})
	return g
}

// commitUserMessage appends the turn's user message and refreshes the snapshot.
func commitUserMessage(ctx context.Context, tc *core.TurnContext, text string) (core.Message, error) {
	msg := core.Message{Role: core.RoleUser, Content: text, TurnID: tc.Turn.TurnID, Created: time.Now()}
	pos, err := tc.Store.AppendMessage(ctx, tc.Turn.ThreadID, msg)
	if err != nil {
		return core.Message{}, fmt.Errorf("append user message: %w", err)
	}
	msg.Position = pos
	th, err := tc.Store.Get(ctx, tc.Turn.ThreadID)
	if err != nil {
		return core.Message{}, fmt.Errorf("load snapshot: %w", err)
	}
	tc.SetUserMessage(msg)
	tc.SetSnapshot(th)
	return msg, nil
}

func commitAssistantMessage(ctx context.Context, tc *core.TurnContext, out any) (any, error) {
	text, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected reply output %T", out)
	}
	msg := core.Message{Role: core.RoleAssistant, Content: text, TurnID: tc.Turn.TurnID, Created: time.Now()}
	pos, err := tc.Store.AppendMessage(ctx, tc.Turn.ThreadID, msg)
	if err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}
	msg.Position = pos
	return core.Reply{Message: msg}, nil
}

func userMessage(tc *core.TurnContext) (core.Message, error) {
	m, ok := tc.UserMessage()
	if !ok {
		return core.Message{}, errors.New("turn has no committed user message")
	}
	return m, nil
}

// passthrough is embedded by nodes whose output is transient.
type passthrough struct{}

func (passthrough) Commit(_ context.Context, _ *core.TurnContext, out any) (any, error) {
	return out, nil
}

type transcribeNode struct {
	transcriber adapter.Transcriber
}

func (n *transcribeNode) ID() core.NodeID { return core.NodeTranscribe }

func (n *transcribeNode) Run(ctx context.Context, tc *core.TurnContext) (any, error) {
	text, err := n.transcriber.Transcribe(ctx, tc.Request.Audio, tc.Request.AudioFormat)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("no speech recognized")
	}
	return core.Transcript{Text: text, At: time.Now()}, nil
}

func (n *transcribeNode) Commit(ctx context.Context, tc *core.TurnContext, out any) (any, error) {
	t, ok := out.(core.Transcript)
	if !ok {
		return nil, fmt.Errorf("unexpected transcript output %T", out)
	}
	if _, err := commitUserMessage(ctx, tc, t.Text); err != nil {
		return nil, err
	}
	return t, nil
}

type classifyNode struct {
	passthrough
	classifier adapter.Classifier
}

func (n *classifyNode) ID() core.NodeID { return core.NodeClassify }

func (n *classifyNode) Run(ctx context.Context, tc *core.TurnContext) (any, error) {
	user, err := userMessage(tc)
	if err != nil {
		return nil, err
	}
	v, err := n.classifier.Classify(ctx, user.Content)
	if err != nil {
		return nil, err
	}
	if !v.Allowed && strings.TrimSpace(v.RedirectText) == "" {
		v.RedirectText = DefaultRedirect
	}
	return v, nil
}

type generateNode struct {
	generator adapter.Generator
}

func (n *generateNode) ID() core.NodeID { return core.NodeGenerate }

func (n *generateNode) Run(ctx context.Context, tc *core.TurnContext) (any, error) {
	snap := tc.Snapshot()
	if snap == nil {
		return nil, errors.New("turn has no thread snapshot")
	}
	reply, err := n.generator.Generate(ctx, snap.Messages)
	if err != nil {
		return nil, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, errors.New("empty reply")
	}
	return reply, nil
}

func (n *generateNode) Commit(ctx context.Context, tc *core.TurnContext, out any) (any, error) {
	return commitAssistantMessage(ctx, tc, out)
}

type redirectNode struct{}

func (n *redirectNode) ID() core.NodeID { return core.NodeRedirect }

func (n *redirectNode) Run(_ context.Context, tc *core.TurnContext) (any, error) {
	out, ok := tc.Output(core.NodeClassify)
	if !ok {
		return DefaultRedirect, nil
	}
	v, ok := out.(core.Verdict)
	if !ok || v.RedirectText == "" {
		return DefaultRedirect, nil
	}
	return v.RedirectText, nil
}

func (n *redirectNode) Commit(ctx context.Context, tc *core.TurnContext, out any) (any, error) {
	return commitAssistantMessage(ctx, tc, out)
}

type analyzeNode struct {
	analyzer adapter.Analyzer
}

func (n *analyzeNode) ID() core.NodeID { return core.NodeAnalyze }

func (n *analyzeNode) Run(ctx context.Context, tc *core.TurnContext) (any, error) {
	user, err := userMessage(tc)
	if err != nil {
		return nil, err
	}
	a, err := n.analyzer.Analyze(ctx, user.Content)
	if err != nil {
		return nil, err
	}
	c := a.Correction
	c.MessagePosition = user.Position
	c.Unavailable = false
	if c.Original == "" {
		c.Original = user.Content
	}
	if c.Corrected == "" {
		c.Corrected = c.Original
	}
	if c.Issues == nil {
		c.Issues = []string{}
	}
	return core.Analysis{Correction: c}, nil
}

func (n *analyzeNode) Commit(ctx context.Context, tc *core.TurnContext, out any) (any, error) {
	a, ok := out.(core.Analysis)
	if !ok {
		return nil, fmt.Errorf("unexpected analysis output %T", out)
	}
	if a.Correction.Created.IsZero() {
		a.Correction.Created = time.Now()
	}
	if err := tc.Store.MergeCorrection(ctx, tc.Turn.ThreadID, a.Correction); err != nil {
		return nil, fmt.Errorf("merge correction: %w", err)
	}
	return a, nil
}

type synthesizeNode struct {
	passthrough
	synthesizer adapter.Synthesizer
}

func (n *synthesizeNode) ID() core.NodeID { return core.NodeSynthesize }

func (n *synthesizeNode) Run(ctx context.Context, tc *core.TurnContext) (any, error) {
	out, ok := tc.Output(core.NodeGenerate)
	if !ok {
		return nil, errors.New("no reply to synthesize")
	}
	reply, ok := out.(core.Reply)
	if !ok {
		return nil, fmt.Errorf("unexpected reply output %T", out)
	}
	audio, format, err := n.synthesizer.Synthesize(ctx, reply.Message.Content)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("empty audio")
	}
	return core.Speech{Audio: audio, Format: format}, nil
}
