package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
)

func TestEncoder_Frame(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(core.Event{Type: core.EventChatResponse, Data: []byte("{\n  \"content\": \"hi\"\n}")}))
	require.NoError(t, enc.Comment("heartbeat"))
	assert.Equal(t, "event: chat_response\ndata: {\"content\":\"hi\"}\n\n: heartbeat\n\n", buf.String())

	assert.Error(t, enc.Encode(core.Event{Type: "bogus", Data: []byte(`{}`)}))
}

func allEvents() []core.Event {
	return []core.Event{
		core.ThreadIDEvent("thread-1"),
		core.TranscriptionEvent("I go to school yesterday", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		core.ChatResponseEvent("Line one\nline two"),
		core.CorrectionEvent(core.Correction{Original: "I go", Corrected: "I went", Issues: []string{"Past tense"}}),
		core.AudioChunkEvent([]byte{0, 1, 2, 3}, "opus"),
		core.ErrorEvent(core.RoleCorrection, "unavailable"),
		core.CompleteEvent(),
	}
}

func TestEncoderDecoder_ChunkBoundaries(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range allEvents() {
		require.NoError(t, enc.Encode(ev))
	}
	wire := buf.Bytes()

	for _, size := range []int{1, 2, 3, 7, 64, len(wire)} {
		dec := NewDecoder(nil)
		var got []core.Event
		for i := 0; i < len(wire); i += size {
			end := i + size
			if end > len(wire) {
				end = len(wire)
			}
			got = append(got, dec.Feed(wire[i:end])...)
		}
		require.Len(t, got, len(allEvents()), "chunk size %d", size)
		for i, want := range allEvents() {
			assert.Equal(t, want.Type, got[i].Type)
			assert.JSONEq(t, string(want.Data), string(got[i].Data))
		}
		assert.False(t, dec.Partial())
	}
}

func TestDecoder_CRLFCommentsAndUnknownFields(t *testing.T) {
	in := ": hello\r\nid: 7\r\nretry: 1000\r\nevent: chat_response\r\ndata: {\"content\":\r\ndata: \"hi\"}\r\n\r\n"
	got := NewDecoder(nil).Feed([]byte(in))
	require.Len(t, got, 1)
	assert.Equal(t, core.EventChatResponse, got[0].Type)
	assert.Equal(t, "{\"content\":\n\"hi\"}", string(got[0].Data))
}

func TestDecoder_NextAndEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event: complete\ndata: {}\n\n"))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, ev.IsTerminal())
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)

	dec = NewDecoder(strings.NewReader("event: chat_response\ndata: {\"content\":\"h"))
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type recordingSink struct {
	events []core.Event
	err    error
}

func (s *recordingSink) Emit(ev core.Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) types() []core.EventType {
	out := make([]core.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func feed(results ...core.NodeResult) <-chan core.NodeResult {
	ch := make(chan core.NodeResult, len(results))
	for _, r := range results {
		ch <- r
	}
	close(ch)
	return ch
}

func TestPublisher_MapsResultsInArrivalOrder(t *testing.T) {
	sink := &recordingSink{}
	turn := core.Turn{ThreadID: "thread-1", TurnID: "turn-1", NewThread: true}
	err := NewPublisher().Publish(context.Background(), turn, feed(
		core.NodeResult{Node: core.NodeClassify, Output: core.Verdict{Allowed: true}},
		core.NodeResult{Node: core.NodeAnalyze, Output: core.Analysis{Correction: core.Correction{Original: "a", Corrected: "b"}}},
		core.NodeResult{Node: core.NodeGenerate, Output: core.Reply{Message: core.Message{Content: "hello"}}},
		core.NodeResult{Node: core.NodeSynthesize, Output: core.Speech{Audio: []byte("x"), Format: "opus"}},
	), sink)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{
		core.EventThreadID, core.EventCorrection, core.EventChatResponse, core.EventAudioChunk, core.EventComplete,
	}, sink.types())

	var corr core.CorrectionPayload
	require.NoError(t, sink.events[1].Decode(&corr))
	assert.NotNil(t, corr.Issues)
}

func TestPublisher_FailuresBecomeRoleErrors(t *testing.T) {
	sink := &recordingSink{}
	turn := core.Turn{ThreadID: "thread-1", TurnID: "turn-1"}
	err := NewPublisher().Publish(context.Background(), turn, feed(
		core.NodeResult{Node: core.NodeClassify, Err: errors.New("down")},
		core.NodeResult{Node: core.NodeAnalyze, Err: adapter.ErrTimeout},
		core.NodeResult{Node: core.NodeGenerate, Output: core.Reply{Message: core.Message{Content: "hello"}}},
	), sink)
	require.NoError(t, err)
	require.Equal(t, []core.EventType{core.EventError, core.EventError, core.EventChatResponse, core.EventComplete}, sink.types())

	var p core.ErrorPayload
	require.NoError(t, sink.events[0].Decode(&p))
	assert.Equal(t, core.RoleClassification, p.Role)
	require.NoError(t, sink.events[1].Decode(&p))
	assert.Equal(t, core.RoleCorrection, p.Role)
	assert.Contains(t, p.Message, "timed out")
	assert.NotContains(t, p.Message, "ErrTimeout")
}

func TestPublisher_DrainsAfterSinkFailure(t *testing.T) {
	boom := errors.New("gone")
	sink := &recordingSink{err: boom}
	results := make(chan core.NodeResult)
	go func() {
		defer close(results)
		for i := 0; i < 3; i++ {
			results <- core.NodeResult{Node: core.NodeGenerate, Output: core.Reply{}}
		}
	}()
	err := NewPublisher().Publish(context.Background(), core.Turn{}, results, sink)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sink.events, 4)
	assert.True(t, sink.events[3].IsTerminal())
}

func TestPublisher_EmptyTurnStillCompletes(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewPublisher().Publish(context.Background(), core.Turn{}, feed(), sink))
	assert.Equal(t, []core.EventType{core.EventComplete}, sink.types())
}
