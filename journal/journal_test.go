package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/core"
)

func collect(t *testing.T, ch <-chan core.Event) []core.EventType {
	t.Helper()
	var types []core.EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return types
			}
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("subscription did not finish, got %v", types)
		}
	}
}

func TestLog_SubscribeReplaysThenTails(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	log, created := s.Open("turn-1", "thread-1")
	require.True(t, created)

	require.NoError(t, log.Emit(core.ThreadIDEvent("thread-1")))
	sub := log.Subscribe(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = log.Emit(core.ChatResponseEvent("hi"))
		_ = log.Emit(core.CompleteEvent())
		log.Close()
	}()

	assert.Equal(t, []core.EventType{core.EventThreadID, core.EventChatResponse, core.EventComplete}, collect(t, sub))
}

func TestLog_LateSubscriberGetsFullReplay(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	log, _ := s.Open("turn-1", "thread-1")
	require.NoError(t, log.Emit(core.ChatResponseEvent("hi")))
	require.NoError(t, log.Emit(core.CompleteEvent()))
	log.Close()

	assert.ErrorIs(t, log.Emit(core.CompleteEvent()), ErrClosed)

	again, ok := s.Lookup("turn-1")
	require.True(t, ok)
	assert.Same(t, log, again)
	assert.Equal(t, []core.EventType{core.EventChatResponse, core.EventComplete}, collect(t, again.Subscribe(context.Background())))
}

func TestLog_SubscriberCancellation(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	log, _ := s.Open("turn-1", "thread-1")
	ctx, cancel := context.WithCancel(context.Background())
	sub := log.Subscribe(ctx)
	cancel()
	collect(t, sub)
	// The writer is unaffected by the departed subscriber.
	require.NoError(t, log.Emit(core.CompleteEvent()))
	log.Close()
	assert.Len(t, log.Events(), 1)
}

func TestStore_OpenIsIdempotent(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	a, created := s.Open("turn-1", "thread-1")
	require.True(t, created)
	b, created := s.Open("turn-1", "thread-1")
	assert.False(t, created)
	assert.Same(t, a, b)

	open, retained := s.Len()
	assert.Equal(t, 1, open)
	assert.Equal(t, 0, retained)

	a.Close()
	a.Close()
	open, retained = s.Len()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, retained)
}

func TestStore_EvictsOldestClosed(t *testing.T) {
	s, err := NewStore(func(o *Options) { o.Capacity = 2 })
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		l, _ := s.Open(id, "thread")
		l.Close()
	}
	_, ok := s.Lookup("a")
	assert.False(t, ok)
	_, ok = s.Lookup("c")
	assert.True(t, ok)
}

func TestStore_Discard(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	l1, _ := s.Open("t1", "thread-a")
	l1.Close()
	l2, _ := s.Open("t2", "thread-b")
	l2.Close()

	assert.Equal(t, 1, s.Discard("thread-a"))
	_, ok := s.Lookup("t1")
	assert.False(t, ok)
	_, ok = s.Lookup("t2")
	assert.True(t, ok)
}

func TestNewStore_RejectsZeroCapacity(t *testing.T) {
	_, err := NewStore(func(o *Options) { o.Capacity = 0 })
	assert.Error(t, err)
}
