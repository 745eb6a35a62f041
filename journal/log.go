package journal

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/speakmesh/core"
)

// Log is the append-only event record of one turn. It is safe for one
// writer and any number of concurrent subscribers.
type Log struct {
	turnID   string
	threadID string
	created  time.Time

	mu      sync.Mutex
	events  []core.Event
	closed  bool
	notify  chan struct{} // closed and replaced on every append
	onClose func(*Log)
}

func newLog(turnID, threadID string, onClose func(*Log)) *Log {
	return &Log{
		turnID:   turnID,
		threadID: threadID,
		created:  time.Now(),
		notify:   make(chan struct{}),
		onClose:  onClose,
	}
}

// TurnID returns the turn the log belongs to.
func (l *Log) TurnID() string { return l.turnID }

// ThreadID returns the thread the turn ran on.
func (l *Log) ThreadID() string { return l.threadID }

// Emit appends ev and wakes all subscribers.
func (l *Log) Emit(ev core.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.events = append(l.events, ev)
	close(l.notify)
	l.notify = make(chan struct{})
	return nil
}

// Close marks the log complete. Further calls are no-ops.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.notify)
	onClose := l.onClose
	l.mu.Unlock()
	if onClose != nil {
		onClose(l)
	}
}

// Closed reports whether the turn finished.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Events returns a snapshot of everything recorded so far.
func (l *Log) Events() []core.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Event(nil), l.events...)
}

// Subscribe replays the recorded events and then follows the log. The
// channel closes after the last event of a closed log or when ctx is done.
// A slow subscriber never blocks the writer.
func (l *Log) Subscribe(ctx context.Context) <-chan core.Event {
	out := make(chan core.Event)
	go func() {
		defer close(out)
		next := 0
		for {
			l.mu.Lock()
			if next < len(l.events) {
				ev := l.events[next]
				l.mu.Unlock()
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
				continue
			}
			if l.closed {
				l.mu.Unlock()
				return
			}
			wait := l.notify
			l.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
