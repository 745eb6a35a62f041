package core

import (
	"fmt"
	"strings"
	"time"
)

// NodeID identifies a node of the turn graph.
type NodeID string

const (
	NodeTranscribe NodeID = "transcribe"
	NodeClassify   NodeID = "classify"
	NodeGenerate   NodeID = "generate"
	NodeSynthesize NodeID = "synthesize"
	NodeAnalyze    NodeID = "analyze"
	NodeRedirect   NodeID = "redirect"
)

// Role maps a node to the logical role reported in error events.
func (n NodeID) Role() ErrorRole {
	switch n {
	case NodeTranscribe:
		return RoleTranscription
	case NodeClassify:
		return RoleClassification
	case NodeGenerate, NodeRedirect:
		return RoleReply
	case NodeAnalyze:
		return RoleCorrection
	case NodeSynthesize:
		return RoleAudio
	default:
		return RoleTurn
	}
}

// MaxUtteranceLength bounds text submissions.
const MaxUtteranceLength = 4000

// TurnRequest is one submission: text or audio, optionally bound to an
// existing thread. TurnID is the client's idempotency token; a retried
// submission carrying the same TurnID never appends a second user message.
type TurnRequest struct {
	ThreadID    string
	TurnID      string
	Text        string
	Audio       []byte
	AudioFormat string
	Speak       bool
}

// Validate rejects malformed submissions before a turn exists.
func (r TurnRequest) Validate() error {
	hasText := strings.TrimSpace(r.Text) != ""
	hasAudio := len(r.Audio) > 0
	switch {
	case hasText && hasAudio:
		return fmt.Errorf("%w: submit either text or audio, not both", ErrInvalidInput)
	case !hasText && !hasAudio:
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	case len(r.Text) > MaxUtteranceLength:
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxUtteranceLength)
	}
	if r.ThreadID != "" {
		if err := ValidateID(r.ThreadID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if r.TurnID != "" {
		if err := ValidateID(r.TurnID); err != nil {
			return fmt.Errorf("%w: invalid turn id %q", ErrInvalidInput, r.TurnID)
		}
	}
	return nil
}

// IsAudio reports whether the request must be transcribed first.
func (r TurnRequest) IsAudio() bool { return len(r.Audio) > 0 }

// Turn identifies one submission on a thread.
type Turn struct {
	ThreadID  string    `json:"thread_id"`
	TurnID    string    `json:"turn_id"`
	NewThread bool      `json:"new_thread"`
	Started   time.Time `json:"started"`
}

// NodeResult is the ephemeral execution record of one node. Output holds one
// of the node output types below; Err is set on failure. Fatal marks a
// failure to commit to the thread store, which ends scheduling for the turn.
type NodeResult struct {
	Node      NodeID
	Output    any
	Err       error
	Fatal     bool
	Started   time.Time
	Completed time.Time
}

// Failed reports whether the node produced no usable output.
func (r NodeResult) Failed() bool { return r.Err != nil }

// Duration returns the wall time spent in the node.
func (r NodeResult) Duration() time.Duration { return r.Completed.Sub(r.Started) }

// Transcript is the output of the transcribe node.
type Transcript struct {
	Text string
	At   time.Time
}

// Verdict is the output of the classify node.
type Verdict struct {
	Allowed      bool
	RedirectText string
}

// Reply is the output of the generate and redirect nodes.
type Reply struct {
	Message Message
}

// Analysis is the output of the analyze node.
type Analysis struct {
	Correction Correction
}

// Speech is the output of the synthesize node.
type Speech struct {
	Audio  []byte
	Format string
}
