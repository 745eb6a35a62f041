package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/speakmesh/core"
)

// ThreadBuilder helps construct threads with fluent chaining for tests.
// Example:
//
//	th := NewThreadBuilder("t-1").User("I go to school yesterday").
//		Correct("I went to school yesterday", "Past tense").
//		Assistant("Nice! What did you learn?").Build()
//
// Messages are positioned in call order; Correct attaches to the latest user
// message.
type ThreadBuilder struct {
	id          string
	turnID      string
	messages    []core.Message
	corrections []core.Correction
	now         time.Time
}

// NewThreadBuilder creates a new builder for a thread with the given id.
func NewThreadBuilder(id string) *ThreadBuilder {
	return &ThreadBuilder{id: id, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// Turn sets the turn id stamped on the following messages (chainable).
func (b *ThreadBuilder) Turn(turnID string) *ThreadBuilder {
	b.turnID = turnID
	return b
}

// User appends a user message (chainable).
func (b *ThreadBuilder) User(text string) *ThreadBuilder {
	return b.message(core.RoleUser, text)
}

// Assistant appends an assistant message (chainable).
func (b *ThreadBuilder) Assistant(text string) *ThreadBuilder {
	return b.message(core.RoleAssistant, text)
}

// Correct attaches a correction to the latest user message (chainable).
func (b *ThreadBuilder) Correct(corrected string, issues ...string) *ThreadBuilder {
	for i := len(b.messages) - 1; i >= 0; i-- {
		m := b.messages[i]
		if m.Role != core.RoleUser {
			continue
		}
		if issues == nil {
			issues = []string{}
		}
		b.corrections = append(b.corrections, core.Correction{
			MessagePosition: m.Position,
			Original:        m.Content,
			Corrected:       corrected,
			Issues:          issues,
			Explanation:     "Nice try!",
			Created:         m.Created,
		})
		return b
	}
	panic("testutil: Correct without a user message")
}

func (b *ThreadBuilder) message(role core.Role, text string) *ThreadBuilder {
	b.now = b.now.Add(time.Second)
	b.messages = append(b.messages, core.Message{
		Position: len(b.messages),
		Role:     role,
		Content:  text,
		TurnID:   b.turnID,
		Created:  b.now,
	})
	return b
}

// Build returns a *core.Thread holding the messages and corrections.
func (b *ThreadBuilder) Build() *core.Thread {
	th := core.NewThread(b.id)
	for _, m := range b.messages {
		th.Append(m)
	}
	for _, c := range b.corrections {
		if err := th.AttachCorrection(c); err != nil {
			panic(fmt.Sprintf("testutil: %v", err))
		}
	}
	return th
}

// Seed writes the thread into store, creating it first.
func (b *ThreadBuilder) Seed(ctx context.Context, store core.ThreadStore) (*core.Thread, error) {
	if _, err := store.Create(ctx, b.id); err != nil {
		return nil, err
	}
	for _, m := range b.messages {
		if _, err := store.AppendMessage(ctx, b.id, m); err != nil {
			return nil, err
		}
	}
	for _, c := range b.corrections {
		if err := store.MergeCorrection(ctx, b.id, c); err != nil {
			return nil, err
		}
	}
	return store.Get(ctx, b.id)
}
