package core

import (
	"fmt"
	"regexp"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks messages submitted by the learner.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the conversation partner.
	RoleAssistant Role = "assistant"
)

// MaxThreadIDLength bounds accepted thread and turn identifiers.
const MaxThreadIDLength = 128

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID reports whether id is usable as a thread or turn identifier.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxThreadIDLength || !threadIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
	}
	return nil
}

// Message is one entry of a thread's history. Position is the 0-based
// append index assigned by the store.
type Message struct {
	Position int       `json:"position"`
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	TurnID   string    `json:"turn_id,omitempty"`
	Created  time.Time `json:"created"`
}

// Correction is the analysis artifact attached to a user message.
//
// A correction with no issues means "no changes needed". Unavailable marks a
// degraded placeholder for an analysis that could not be produced; it is
// distinct from an empty issue list.
type Correction struct {
	MessagePosition int       `json:"message_position"`
	Original        string    `json:"original"`
	Corrected       string    `json:"corrected"`
	Issues          []string  `json:"issues"`
	Explanation     string    `json:"explanation"`
	Unavailable     bool      `json:"unavailable,omitempty"`
	Created         time.Time `json:"created"`
}

// NoChanges reports whether the analysis found nothing to fix.
func (c Correction) NoChanges() bool {
	return !c.Unavailable && len(c.Issues) == 0
}

// Clone returns a copy that does not share the issue slice.
func (c Correction) Clone() Correction {
	cp := c
	cp.Issues = append([]string{}, c.Issues...)
	return cp
}

// UnavailableCorrection builds the degraded marker for a user message whose
// analysis failed.
func UnavailableCorrection(position int, original string) Correction {
	return Correction{
		MessagePosition: position,
		Original:        original,
		Corrected:       original,
		Issues:          []string{},
		Explanation:     "Grammar feedback is unavailable for this message.",
		Unavailable:     true,
		Created:         time.Now(),
	}
}

// Thread is a persistent conversation: an ordered message history plus the
// corrections accumulated for its user messages. Both lists are append-only.
//
// A Thread value handed out by a ThreadStore is a snapshot; mutating it never
// affects stored state.
type Thread struct {
	ID          string       `json:"id"`
	Messages    []Message    `json:"messages"`
	Corrections []Correction `json:"corrections"`
	Created     time.Time    `json:"created"`
	Updated     time.Time    `json:"updated"`
}

// NewThread creates an empty thread with the given id.
func NewThread(id string) *Thread {
	now := time.Now()
	return &Thread{ID: id, Messages: []Message{}, Corrections: []Correction{}, Created: now, Updated: now}
}

// Clone returns a deep copy of the thread.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	clone := &Thread{
		ID:          t.ID,
		Messages:    make([]Message, len(t.Messages)),
		Corrections: make([]Correction, len(t.Corrections)),
		Created:     t.Created,
		Updated:     t.Updated,
	}
	copy(clone.Messages, t.Messages)
	for i, c := range t.Corrections {
		clone.Corrections[i] = c.Clone()
	}
	return clone
}

// Append adds a message at the next position and returns that position.
func (t *Thread) Append(msg Message) int {
	msg.Position = len(t.Messages)
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	t.Messages = append(t.Messages, msg)
	t.Updated = msg.Created
	return msg.Position
}

// AttachCorrection validates and records a correction. At most one
// correction may reference a given user message.
func (t *Thread) AttachCorrection(c Correction) error {
	if c.MessagePosition < 0 || c.MessagePosition >= len(t.Messages) {
		return fmt.Errorf("%w: position %d", ErrInvalidReference, c.MessagePosition)
	}
	if t.Messages[c.MessagePosition].Role != RoleUser {
		return fmt.Errorf("%w: position %d is an %s message", ErrInvalidReference, c.MessagePosition, t.Messages[c.MessagePosition].Role)
	}
	if _, ok := t.CorrectionFor(c.MessagePosition); ok {
		return fmt.Errorf("%w: position %d", ErrDuplicateCorrection, c.MessagePosition)
	}
	c = c.Clone()
	if c.Created.IsZero() {
		c.Created = time.Now()
	}
	t.Corrections = append(t.Corrections, c)
	t.Updated = c.Created
	return nil
}

// CorrectionFor returns the correction attached to the message at position.
func (t *Thread) CorrectionFor(position int) (Correction, bool) {
	for _, c := range t.Corrections {
		if c.MessagePosition == position {
			return c.Clone(), true
		}
	}
	return Correction{}, false
}

// LastUserMessage returns the most recent user message.
func (t *Thread) LastUserMessage() (Message, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			return t.Messages[i], true
		}
	}
	return Message{}, false
}

// TurnMessages returns the messages appended by the turn with the given id,
// in append order.
func (t *Thread) TurnMessages(turnID string) []Message {
	if turnID == "" {
		return nil
	}
	var out []Message
	for _, m := range t.Messages {
		if m.TurnID == turnID {
			out = append(out, m)
		}
	}
	return out
}

// HasTurn reports whether a turn with the given id already appended its user message.
func (t *Thread) HasTurn(turnID string) bool {
	for _, m := range t.TurnMessages(turnID) {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// HistoryEntry pairs a message with its correction, if any.
type HistoryEntry struct {
	Message
	Correction *Correction `json:"correction,omitempty"`
}

// History returns the messages in order, each joined with its correction.
func (t *Thread) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(t.Messages))
	for _, m := range t.Messages {
		entry := HistoryEntry{Message: m}
		if m.Role == RoleUser {
			if c, ok := t.CorrectionFor(m.Position); ok {
				entry.Correction = &c
			}
		}
		out = append(out, entry)
	}
	return out
}
