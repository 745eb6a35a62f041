package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnMachine_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		legal bool
	}{
		{name: "happy path", path: []State{StateAwaitingFirstEvent, StateStreaming, StateTerminal}, legal: true},
		{name: "reconnect", path: []State{StateAwaitingFirstEvent, StateStreaming, StateReconnecting, StateAwaitingFirstEvent, StateTerminal}, legal: true},
		{name: "fail before first event", path: []State{StateAwaitingFirstEvent, StateReconnecting, StateTerminal}, legal: true},
		{name: "skip awaiting", path: []State{StateStreaming}, legal: false},
		{name: "leave terminal", path: []State{StateAwaitingFirstEvent, StateTerminal, StateStreaming}, legal: false},
		{name: "reconnect to streaming", path: []State{StateAwaitingFirstEvent, StateReconnecting, StateStreaming}, legal: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTurnMachine()
			var err error
			for _, s := range tt.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if tt.legal {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], m.State())
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			}
		})
	}
}

func TestTurnMachine_Observe(t *testing.T) {
	m := NewTurnMachine()
	assert.False(t, m.Observe(false), "idle drops events")

	require.NoError(t, m.Transition(StateAwaitingFirstEvent))
	assert.True(t, m.Observe(false))
	assert.Equal(t, StateStreaming, m.State())
	assert.True(t, m.Observe(true))
	assert.Equal(t, StateTerminal, m.State())

	assert.False(t, m.Observe(false), "late events after terminal are dropped")
	assert.False(t, m.Observe(true))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "reconnecting, attempt 2 of 3", Status{State: StateReconnecting, Attempt: 2, MaxRetries: 3}.String())
	assert.Equal(t, "streaming", Status{State: StateStreaming}.String())
}
