package client

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of one Turn on the client.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstEvent
	StateStreaming
	StateReconnecting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstEvent:
		return "awaiting-first-event"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrIllegalTransition is returned by Transition for moves the Turn
// lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal turn state transition")

var transitions = map[State][]State{
	StateIdle:               {StateAwaitingFirstEvent},
	StateAwaitingFirstEvent: {StateStreaming, StateReconnecting, StateTerminal},
	StateStreaming:          {StateReconnecting, StateTerminal},
	StateReconnecting:       {StateAwaitingFirstEvent, StateTerminal},
}

// TurnMachine tracks the state of a single Turn. It is driven by the one
// read loop of that Turn and is not safe for concurrent use.
type TurnMachine struct {
	state State
}

// NewTurnMachine returns a machine in StateIdle.
func NewTurnMachine() *TurnMachine { return &TurnMachine{} }

// State returns the current state.
func (m *TurnMachine) State() State { return m.state }

// Transition moves to next or returns ErrIllegalTransition.
func (m *TurnMachine) Transition(next State) error {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
}

// AcceptsEvents reports whether events may be applied. Events arriving in
// any other state (notably after the terminal event) are dropped.
func (m *TurnMachine) AcceptsEvents() bool {
	return m.state == StateAwaitingFirstEvent || m.state == StateStreaming
}

// Observe advances the machine for a received event: the first event moves
// it to streaming and the terminal event to terminal. It reports whether the
// event should be applied.
func (m *TurnMachine) Observe(terminal bool) bool {
	if !m.AcceptsEvents() {
		return false
	}
	if m.state == StateAwaitingFirstEvent {
		m.state = StateStreaming
	}
	if terminal {
		m.state = StateTerminal
	}
	return true
}
