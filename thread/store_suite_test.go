package thread

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/core"
)

// runStoreSuite exercises the ThreadStore contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) core.ThreadStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		th, err := s.Create(ctx, "t-create")
		require.NoError(t, err)
		assert.Equal(t, "t-create", th.ID)
		assert.Empty(t, th.Messages)

		got, err := s.Get(ctx, "t-create")
		require.NoError(t, err)
		assert.Equal(t, "t-create", got.ID)
		assert.Empty(t, got.Corrections)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-dup")
		require.NoError(t, err)
		_, err = s.Create(ctx, "t-dup")
		assert.ErrorIs(t, err, core.ErrThreadExists)
	})

	t.Run("CreateInvalidID", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "no spaces/allowed")
		assert.ErrorIs(t, err, core.ErrInvalidThreadID)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrThreadNotFound)
	})

	t.Run("AppendAssignsPositions", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-append")
		require.NoError(t, err)
		for i, m := range []core.Message{
			{Role: core.RoleUser, Content: "Hi", TurnID: "turn-1"},
			{Role: core.RoleAssistant, Content: "Hello!", TurnID: "turn-1"},
			{Role: core.RoleUser, Content: "I go yesterday.", TurnID: "turn-2"},
		} {
			pos, err := s.AppendMessage(ctx, "t-append", m)
			require.NoError(t, err)
			assert.Equal(t, i, pos)
		}
		th, err := s.Get(ctx, "t-append")
		require.NoError(t, err)
		require.Len(t, th.Messages, 3)
		assert.Equal(t, "I go yesterday.", th.Messages[2].Content)
		assert.Equal(t, core.RoleAssistant, th.Messages[1].Role)
		assert.True(t, th.HasTurn("turn-2"))
		assert.False(t, th.HasTurn("turn-3"))
	})

	t.Run("AppendUnknownThread", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AppendMessage(ctx, "missing", core.Message{Role: core.RoleUser, Content: "x"})
		assert.ErrorIs(t, err, core.ErrThreadNotFound)
	})

	t.Run("AppendInvalidRole", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-role")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, "t-role", core.Message{Role: "system", Content: "x"})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("MergeCorrection", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-corr")
		require.NoError(t, err)
		userPos, err := s.AppendMessage(ctx, "t-corr", core.Message{Role: core.RoleUser, Content: "I go yesterday."})
		require.NoError(t, err)
		assistantPos, err := s.AppendMessage(ctx, "t-corr", core.Message{Role: core.RoleAssistant, Content: "Where?"})
		require.NoError(t, err)

		c := core.Correction{
			MessagePosition: userPos,
			Original:        "I go yesterday.",
			Corrected:       "I went yesterday.",
			Issues:          []string{"Use past tense 'went' for completed actions"},
			Explanation:     "Yesterday marks a finished action.",
		}
		require.NoError(t, s.MergeCorrection(ctx, "t-corr", c))

		err = s.MergeCorrection(ctx, "t-corr", c)
		assert.ErrorIs(t, err, core.ErrDuplicateCorrection)

		c.MessagePosition = assistantPos
		err = s.MergeCorrection(ctx, "t-corr", c)
		assert.ErrorIs(t, err, core.ErrInvalidReference)

		c.MessagePosition = 42
		err = s.MergeCorrection(ctx, "t-corr", c)
		assert.ErrorIs(t, err, core.ErrInvalidReference)

		th, err := s.Get(ctx, "t-corr")
		require.NoError(t, err)
		require.Len(t, th.Corrections, 1)
		got, ok := th.CorrectionFor(userPos)
		require.True(t, ok)
		assert.Equal(t, "I went yesterday.", got.Corrected)
		assert.Equal(t, []string{"Use past tense 'went' for completed actions"}, got.Issues)
	})

	t.Run("MergeCorrectionNoIssues", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-clean")
		require.NoError(t, err)
		pos, err := s.AppendMessage(ctx, "t-clean", core.Message{Role: core.RoleUser, Content: "I went home."})
		require.NoError(t, err)
		require.NoError(t, s.MergeCorrection(ctx, "t-clean", core.Correction{
			MessagePosition: pos, Original: "I went home.", Corrected: "I went home.",
		}))
		th, err := s.Get(ctx, "t-clean")
		require.NoError(t, err)
		c, ok := th.CorrectionFor(pos)
		require.True(t, ok)
		assert.NotNil(t, c.Issues)
		assert.True(t, c.NoChanges())
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-iso")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, "t-iso", core.Message{Role: core.RoleUser, Content: "original"})
		require.NoError(t, err)

		th, err := s.Get(ctx, "t-iso")
		require.NoError(t, err)
		th.Messages[0].Content = "mutated"
		th.Messages = append(th.Messages, core.Message{Role: core.RoleUser, Content: "extra"})

		again, err := s.Get(ctx, "t-iso")
		require.NoError(t, err)
		require.Len(t, again.Messages, 1)
		assert.Equal(t, "original", again.Messages[0].Content)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-del")
		require.NoError(t, err)
		pos, err := s.AppendMessage(ctx, "t-del", core.Message{Role: core.RoleUser, Content: "x"})
		require.NoError(t, err)
		require.NoError(t, s.MergeCorrection(ctx, "t-del", core.Correction{MessagePosition: pos, Original: "x", Corrected: "x"}))

		require.NoError(t, s.Delete(ctx, "t-del"))
		_, err = s.Get(ctx, "t-del")
		assert.ErrorIs(t, err, core.ErrThreadNotFound)
		require.NoError(t, s.Delete(ctx, "t-del"))

		// The id is free again and starts from position zero.
		_, err = s.Create(ctx, "t-del")
		require.NoError(t, err)
		pos, err = s.AppendMessage(ctx, "t-del", core.Message{Role: core.RoleUser, Content: "fresh"})
		require.NoError(t, err)
		assert.Equal(t, 0, pos)
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "t-conc")
		require.NoError(t, err)
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendMessage(ctx, "t-conc", core.Message{Role: core.RoleUser, Content: fmt.Sprintf("m%d", i)})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		th, err := s.Get(ctx, "t-conc")
		require.NoError(t, err)
		require.Len(t, th.Messages, n)
		for i, m := range th.Messages {
			assert.Equal(t, i, m.Position)
		}
	})

	t.Run("LockExcludesSecondWriter", func(t *testing.T) {
		s := newStore(t)
		release, err := s.Lock(ctx, "t-lock")
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = s.Lock(waitCtx, "t-lock")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		other, err := s.Lock(ctx, "t-other")
		require.NoError(t, err)
		other()

		release()
		release()
		again, err := s.Lock(ctx, "t-lock")
		require.NoError(t, err)
		again()
	})
}
