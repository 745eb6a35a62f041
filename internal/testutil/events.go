package testutil

import (
	"testing"
	"time"

	"github.com/hupe1980/speakmesh/core"
)

// CollectEvents reads events until the channel closes and fails the test if
// that takes longer than five seconds.
func CollectEvents(tb testing.TB, events <-chan core.Event) []core.Event {
	tb.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			tb.Fatalf("event stream did not close, got %v so far", EventTypes(out))
			return nil
		}
	}
}

// EventTypes returns the types of events in order.
func EventTypes(events []core.Event) []core.EventType {
	types := make([]core.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// FindEvent returns the first event of type t.
func FindEvent(events []core.Event, t core.EventType) (core.Event, bool) {
	for _, ev := range events {
		if ev.Type == t {
			return ev, true
		}
	}
	return core.Event{}, false
}

// DecodePayload decodes the payload of ev into a new T and fails the test on error.
func DecodePayload[T any](tb testing.TB, ev core.Event) T {
	tb.Helper()
	var v T
	if err := ev.Decode(&v); err != nil {
		tb.Fatalf("decode %s: %v", ev.Type, err)
	}
	return v
}
