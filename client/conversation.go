package client

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

// PendingVoiceText is shown for an audio submission until its transcription arrives.
const PendingVoiceText = "(voice message)"

// LocalMessage is the client side view of one message. Position is the
// server's message position; it is -1 for messages of live turns, whose
// events do not carry it.
type LocalMessage struct {
	Position   int
	Role       core.Role
	Content    string
	TurnID     string
	Pending    bool
	Failed     bool
	Correction *core.Correction
}

// Notice records a non-blocking error event.
type Notice struct {
	TurnID  string
	Role    core.ErrorRole
	Message string
}

// Conversation is the local rendering state of a thread. Apply dispatches
// events by type; all methods are safe for concurrent use.
type Conversation struct {
	mu           sync.Mutex
	threadID     string
	messages     []LocalMessage
	notices      []Notice
	replyPending bool
	lastError    string
	assistantIdx int
	userIdx      int
	played       map[string]bool
	player       Player
	logger       logging.Logger
}

// NewConversation creates an empty Conversation. player may be nil.
func NewConversation(player Player, logger logging.Logger) *Conversation {
	if player == nil {
		player = DiscardPlayer{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Conversation{assistantIdx: -1, userIdx: -1, played: map[string]bool{}, player: player, logger: logger}
}

// ThreadID returns the adopted thread id, empty before the first turn.
func (c *Conversation) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// SetThreadID resumes an existing thread.
func (c *Conversation) SetThreadID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = id
}

// Messages returns a copy of the local messages.
func (c *Conversation) Messages() []LocalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LocalMessage, len(c.messages))
	for i, m := range c.messages {
		if m.Correction != nil {
			cp := m.Correction.Clone()
			m.Correction = &cp
		}
		out[i] = m
	}
	return out
}

// Notices returns the recorded non-blocking errors.
func (c *Conversation) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// ReplyPending reports whether a reply is still expected for the open turn.
func (c *Conversation) ReplyPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyPending
}

// LastError returns the most recent visible failure.
func (c *Conversation) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Restore replaces the local messages with a thread history fetched from the server.
func (c *Conversation) Restore(threadID string, history []core.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = threadID
	c.messages = c.messages[:0]
	c.userIdx, c.assistantIdx = -1, -1
	c.replyPending = false
	for _, h := range history {
		m := LocalMessage{Position: h.Position, Role: h.Role, Content: h.Content, TurnID: h.TurnID}
		if h.Correction != nil {
			cp := h.Correction.Clone()
			m.Correction = &cp
		}
		c.messages = append(c.messages, m)
		if h.Role == core.RoleUser {
			c.userIdx = len(c.messages) - 1
		}
	}
}

// BeginTurn records the local user message of a new turn.
func (c *Conversation) BeginTurn(turnID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, LocalMessage{Position: -1, Role: core.RoleUser, Content: text, TurnID: turnID})
	c.userIdx = len(c.messages) - 1
	c.assistantIdx = -1
	c.replyPending = true
	c.lastError = ""
}

// Abandon marks the turn as failed after retries were exhausted. The user
// message stays visible for a manual resend.
func (c *Conversation) Abandon(turnID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].TurnID == turnID && c.messages[i].Role == core.RoleUser {
			c.messages[i].Failed = true
		}
	}
	c.replyPending = false
	c.lastError = reason
}

// Apply dispatches one event of turnID. Audio is handed to the player on a
// separate goroutine bound to ctx.
func (c *Conversation) Apply(ctx context.Context, turnID string, ev core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case core.EventThreadID:
		var p core.ThreadIDPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.threadID = p.ThreadID
	case core.EventTranscription:
		var p core.TranscriptionPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if c.userIdx >= 0 {
			c.messages[c.userIdx].Content = p.Text
		}
	case core.EventChatResponse:
		var p core.ChatResponsePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if c.assistantIdx >= 0 {
			c.messages[c.assistantIdx].Content = p.Content
		} else {
			c.messages = append(c.messages, LocalMessage{Position: -1, Role: core.RoleAssistant, Content: p.Content, TurnID: turnID})
			c.assistantIdx = len(c.messages) - 1
		}
		c.replyPending = false
	case core.EventCorrection:
		var p core.CorrectionPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if c.userIdx >= 0 {
			c.messages[c.userIdx].Correction = &core.Correction{
				MessagePosition: c.messages[c.userIdx].Position,
				Original:        p.Original,
				Corrected:       p.Corrected,
				Issues:          p.Issues,
				Explanation:     p.Explanation,
			}
		}
	case core.EventAudioChunk:
		var p core.AudioChunkPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if c.played[turnID] {
			return nil
		}
		audio, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			return err
		}
		c.played[turnID] = true
		go func(player Player) {
			if err := player.Play(ctx, audio, p.Format); err != nil {
				c.logger.Warn("Audio playback failed", "turn_id", turnID, "error", err.Error())
			}
		}(c.player)
	case core.EventError:
		var p core.ErrorPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.applyError(turnID, p)
	case core.EventComplete:
		c.replyPending = false
	default:
		c.logger.Debug("Ignoring unknown event", "type", string(ev.Type))
	}
	return nil
}

func (c *Conversation) applyError(turnID string, p core.ErrorPayload) {
	switch p.Role {
	case core.RoleReply:
		c.replyPending = false
		c.lastError = p.Message
	case core.RoleCorrection:
		if c.userIdx >= 0 && c.messages[c.userIdx].Correction == nil {
			u := core.UnavailableCorrection(c.messages[c.userIdx].Position, c.messages[c.userIdx].Content)
			c.messages[c.userIdx].Correction = &u
		}
	case core.RoleTranscription:
		if c.userIdx >= 0 && strings.TrimSpace(c.messages[c.userIdx].Content) == PendingVoiceText {
			c.messages[c.userIdx].Failed = true
		}
		c.replyPending = false
		c.lastError = p.Message
	default:
		c.notices = append(c.notices, Notice{TurnID: turnID, Role: p.Role, Message: p.Message})
	}
}
