package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/core"
)

type recordingPlayer struct {
	mu    sync.Mutex
	clips [][]byte
	done  chan struct{}
}

func newRecordingPlayer() *recordingPlayer {
	return &recordingPlayer{done: make(chan struct{}, 8)}
}

func (p *recordingPlayer) Play(_ context.Context, audio []byte, _ string) error {
	p.mu.Lock()
	p.clips = append(p.clips, audio)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clips)
}

func apply(t *testing.T, c *Conversation, turnID string, events ...core.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, c.Apply(context.Background(), turnID, ev))
	}
}

func TestConversation_Dispatch(t *testing.T) {
	c := NewConversation(nil, nil)
	c.BeginTurn("turn-1", "I go to school yesterday")
	assert.True(t, c.ReplyPending())

	apply(t, c, "turn-1",
		core.ThreadIDEvent("thread-1"),
		core.ChatResponseEvent("Nice!"),
		core.CorrectionEvent(core.Correction{Original: "I go to school yesterday", Corrected: "I went to school yesterday", Issues: []string{"past tense"}}),
		core.CompleteEvent(),
	)

	assert.Equal(t, "thread-1", c.ThreadID())
	assert.False(t, c.ReplyPending())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	require.NotNil(t, msgs[0].Correction)
	assert.Equal(t, "I went to school yesterday", msgs[0].Correction.Corrected)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Nice!", msgs[1].Content)
}

func TestConversation_ReplayedEventsAreIdempotent(t *testing.T) {
	c := NewConversation(nil, nil)
	c.BeginTurn("turn-1", "hello")

	apply(t, c, "turn-1", core.ChatResponseEvent("first"))
	apply(t, c, "turn-1", core.ChatResponseEvent("first"), core.ChatResponseEvent("updated"))

	msgs := c.Messages()
	require.Len(t, msgs, 2, "one pending assistant message per turn")
	assert.Equal(t, "updated", msgs[1].Content)
}

func TestConversation_Transcription(t *testing.T) {
	c := NewConversation(nil, nil)
	c.BeginTurn("turn-1", PendingVoiceText)
	apply(t, c, "turn-1", core.TranscriptionEvent("I like two dog", time.Now()))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "I like two dog", msgs[0].Content)
}

func TestConversation_Errors(t *testing.T) {
	t.Run("reply failure is visible", func(t *testing.T) {
		c := NewConversation(nil, nil)
		c.BeginTurn("turn-1", "hello")
		apply(t, c, "turn-1", core.ErrorEvent(core.RoleReply, "generation failed"))

		assert.False(t, c.ReplyPending())
		assert.Equal(t, "generation failed", c.LastError())
	})

	t.Run("correction failure degrades locally", func(t *testing.T) {
		c := NewConversation(nil, nil)
		c.BeginTurn("turn-1", "hello")
		apply(t, c, "turn-1", core.ChatResponseEvent("hi"), core.ErrorEvent(core.RoleCorrection, "analysis failed"))

		assert.Empty(t, c.LastError(), "no blocking error")
		msgs := c.Messages()
		require.NotNil(t, msgs[0].Correction)
		assert.True(t, msgs[0].Correction.Unavailable)
		assert.False(t, msgs[0].Correction.NoChanges())
	})

	t.Run("other roles become notices", func(t *testing.T) {
		c := NewConversation(nil, nil)
		c.BeginTurn("turn-1", "hello")
		apply(t, c, "turn-1", core.ErrorEvent(core.RoleAudio, "tts failed"))

		assert.Empty(t, c.LastError())
		require.Len(t, c.Notices(), 1)
		assert.Equal(t, core.RoleAudio, c.Notices()[0].Role)
	})

	t.Run("transcription failure", func(t *testing.T) {
		c := NewConversation(nil, nil)
		c.BeginTurn("turn-1", PendingVoiceText)
		apply(t, c, "turn-1", core.ErrorEvent(core.RoleTranscription, "could not understand"))

		assert.True(t, c.Messages()[0].Failed)
		assert.False(t, c.ReplyPending())
	})
}

func TestConversation_AudioPlayedOncePerTurn(t *testing.T) {
	p := newRecordingPlayer()
	c := NewConversation(p, nil)
	c.BeginTurn("turn-1", "hello")

	apply(t, c, "turn-1", core.AudioChunkEvent([]byte("clip"), "opus"), core.AudioChunkEvent([]byte("clip"), "opus"))
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("player not called")
	}

	c.BeginTurn("turn-2", "again")
	apply(t, c, "turn-2", core.AudioChunkEvent([]byte("clip2"), "opus"))
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("player not called for second turn")
	}
	assert.Equal(t, 2, p.count())
}

func TestConversation_RestoreAndAbandon(t *testing.T) {
	c := NewConversation(nil, nil)
	corr := core.Correction{MessagePosition: 0, Original: "a", Corrected: "b", Issues: []string{"x"}}
	c.Restore("thread-1", []core.HistoryEntry{
		{Message: core.Message{Position: 0, Role: core.RoleUser, Content: "a"}, Correction: &corr},
		{Message: core.Message{Position: 1, Role: core.RoleAssistant, Content: "ok"}},
	})
	assert.Equal(t, "thread-1", c.ThreadID())
	require.Len(t, c.Messages(), 2)
	assert.Equal(t, "b", c.Messages()[0].Correction.Corrected)

	c.BeginTurn("turn-9", "lost message")
	c.Abandon("turn-9", "Connection lost")
	msgs := c.Messages()
	assert.True(t, msgs[2].Failed)
	assert.False(t, c.ReplyPending())
	assert.Equal(t, "Connection lost", c.LastError())
}

func TestConversation_CorrectionPositionIsNotLocalIndex(t *testing.T) {
	c := NewConversation(nil, nil)
	c.Restore("thread-1", []core.HistoryEntry{
		{Message: core.Message{Position: 0, Role: core.RoleUser, Content: "hi"}},
		{Message: core.Message{Position: 1, Role: core.RoleAssistant, Content: "hello"}},
	})
	c.BeginTurn("turn-lost", "never reached the server")
	c.Abandon("turn-lost", "Connection lost")

	c.BeginTurn("turn-2", "I go to school yesterday")
	apply(t, c, "turn-2", core.CorrectionEvent(core.Correction{Original: "I go to school yesterday", Corrected: "I went to school yesterday", Issues: []string{"past tense"}}))
	c.BeginTurn("turn-3", "She have a dog")
	apply(t, c, "turn-3", core.ErrorEvent(core.RoleCorrection, "unavailable"))

	msgs := c.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, 1, msgs[1].Position)
	assert.True(t, msgs[2].Failed)
	assert.Equal(t, -1, msgs[3].Position)
	require.NotNil(t, msgs[3].Correction)
	assert.Equal(t, -1, msgs[3].Correction.MessagePosition, "live corrections carry no server position")
	require.NotNil(t, msgs[4].Correction)
	assert.True(t, msgs[4].Correction.Unavailable)
	assert.Equal(t, -1, msgs[4].Correction.MessagePosition)
}
