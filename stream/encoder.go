package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hupe1980/speakmesh/core"
)

type flusher interface {
	Flush()
}

// Encoder writes events as server-sent events and flushes after each one
// when the writer supports it.
type Encoder struct {
	w     io.Writer
	flush func()
	buf   bytes.Buffer
}

// NewEncoder creates an Encoder on w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w, flush: func() {}}
	if f, ok := w.(flusher); ok {
		e.flush = f.Flush
	}
	return e
}

// Encode writes one event frame. The payload is compacted so it always fits
// on a single data line.
func (e *Encoder) Encode(ev core.Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("encode: unknown event type %q", ev.Type)
	}
	e.buf.Reset()
	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if err := json.Compact(&e.buf, data); err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, e.buf.Bytes()); err != nil {
		return err
	}
	e.flush()
	return nil
}

// Emit implements Sink.
func (e *Encoder) Emit(ev core.Event) error { return e.Encode(ev) }

// Comment writes a comment frame, used as a keep-alive heartbeat.
func (e *Encoder) Comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	e.flush()
	return nil
}
