package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event kinds sent to clients during a turn.
type EventType string

const (
	// EventThreadID assigns or confirms the thread id (once per new thread).
	EventThreadID EventType = "thread_id"
	// EventTranscription carries audio input resolved to text.
	EventTranscription EventType = "transcription"
	// EventChatResponse carries the conversation partner's reply.
	EventChatResponse EventType = "chat_response"
	// EventCorrection carries the analysis of the user's utterance.
	EventCorrection EventType = "correction"
	// EventAudioChunk carries synthesized speech for the reply.
	EventAudioChunk EventType = "audio_chunk"
	// EventError reports that a logical role failed.
	EventError EventType = "error"
	// EventComplete is the terminal signal of a turn.
	EventComplete EventType = "complete"
)

// Valid reports whether t belongs to the closed event type set.
func (t EventType) Valid() bool {
	switch t {
	case EventThreadID, EventTranscription, EventChatResponse, EventCorrection,
		EventAudioChunk, EventError, EventComplete:
		return true
	default:
		return false
	}
}

// ErrorRole names the logical capability that failed. It decouples the wire
// format from the internal graph shape.
type ErrorRole string

const (
	RoleTranscription  ErrorRole = "transcription"
	RoleClassification ErrorRole = "classification"
	RoleReply          ErrorRole = "reply"
	RoleCorrection     ErrorRole = "correction"
	RoleAudio          ErrorRole = "audio"
	RoleTurn           ErrorRole = "turn"
)

// Event is one typed record of the outbound stream. Data holds the JSON
// encoded payload matching Type.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ThreadIDPayload is the payload of EventThreadID.
type ThreadIDPayload struct {
	ThreadID string `json:"thread_id"`
}

// TranscriptionPayload is the payload of EventTranscription.
type TranscriptionPayload struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ChatResponsePayload is the payload of EventChatResponse.
type ChatResponsePayload struct {
	Content string `json:"content"`
}

// CorrectionPayload is the payload of EventCorrection.
type CorrectionPayload struct {
	Original    string   `json:"original"`
	Corrected   string   `json:"corrected"`
	Issues      []string `json:"issues"`
	Explanation string   `json:"explanation"`
}

// AudioChunkPayload is the payload of EventAudioChunk. Audio is base64 encoded.
type AudioChunkPayload struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

// ErrorPayload is the payload of EventError.
type ErrorPayload struct {
	Role    ErrorRole `json:"role"`
	Message string    `json:"message"`
}

// CompletePayload is the (empty) payload of EventComplete.
type CompletePayload struct{}

// NewEvent encodes payload and wraps it in an Event of type t.
func NewEvent(t EventType, payload any) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("unknown event type %q", t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, Data: data}, nil
}

// mustEvent is used by the typed constructors whose payloads always encode.
func mustEvent(t EventType, payload any) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// ThreadIDEvent builds a thread_id event.
func ThreadIDEvent(threadID string) Event {
	return mustEvent(EventThreadID, ThreadIDPayload{ThreadID: threadID})
}

// TranscriptionEvent builds a transcription event.
func TranscriptionEvent(text string, at time.Time) Event {
	return mustEvent(EventTranscription, TranscriptionPayload{Text: text, Timestamp: at.UTC().Format(time.RFC3339)})
}

// ChatResponseEvent builds a chat_response event.
func ChatResponseEvent(content string) Event {
	return mustEvent(EventChatResponse, ChatResponsePayload{Content: content})
}

// CorrectionEvent builds a correction event.
func CorrectionEvent(c Correction) Event {
	issues := c.Issues
	if issues == nil {
		issues = []string{}
	}
	return mustEvent(EventCorrection, CorrectionPayload{
		Original:    c.Original,
		Corrected:   c.Corrected,
		Issues:      issues,
		Explanation: c.Explanation,
	})
}

// AudioChunkEvent builds an audio_chunk event, base64 encoding audio.
func AudioChunkEvent(audio []byte, format string) Event {
	return mustEvent(EventAudioChunk, AudioChunkPayload{Audio: base64.StdEncoding.EncodeToString(audio), Format: format})
}

// ErrorEvent builds an error event for role.
func ErrorEvent(role ErrorRole, message string) Event {
	return mustEvent(EventError, ErrorPayload{Role: role, Message: message})
}

// CompleteEvent builds the terminal event.
func CompleteEvent() Event {
	return mustEvent(EventComplete, CompletePayload{})
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// IsTerminal reports whether e closes its turn.
func (e Event) IsTerminal() bool { return e.Type == EventComplete }

// NewID returns a random identifier suitable for threads and turns.
func NewID() string { return uuid.NewString() }
