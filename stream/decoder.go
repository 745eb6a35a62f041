package stream

import (
	"bytes"
	"io"
	"strings"

	"github.com/hupe1980/speakmesh/core"
)

// Decoder parses a server-sent events stream incrementally. Feed accepts
// arbitrary chunks; an event is dispatched at the first blank line after
// its data. Comments and id/retry fields are ignored.
type Decoder struct {
	r       io.Reader
	readBuf []byte
	pending []core.Event

	line    []byte
	evType  string
	data    strings.Builder
	hasData bool
}

// NewDecoder creates a Decoder. r may be nil when only Feed is used.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Feed consumes a chunk and returns the events it completed.
func (d *Decoder) Feed(chunk []byte) []core.Event {
	d.line = append(d.line, chunk...)
	var out []core.Event
	for {
		i := bytes.IndexByte(d.line, '\n')
		if i < 0 {
			return out
		}
		line := d.line[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if ev, ok := d.processLine(string(line)); ok {
			out = append(out, ev)
		}
		d.line = d.line[i+1:]
	}
}

func (d *Decoder) processLine(line string) (core.Event, bool) {
	if line == "" {
		if !d.hasData {
			d.evType = ""
			return core.Event{}, false
		}
		ev := core.Event{Type: core.EventType(d.evType), Data: []byte(d.data.String())}
		if ev.Type == "" {
			ev.Type = "message"
		}
		d.evType = ""
		d.data.Reset()
		d.hasData = false
		return ev, true
	}
	if strings.HasPrefix(line, ":") {
		return core.Event{}, false
	}
	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "event":
		d.evType = value
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.hasData = true
	}
	return core.Event{}, false
}

// Partial reports whether undispatched input is buffered.
func (d *Decoder) Partial() bool {
	return len(d.line) > 0 || d.hasData
}

// Next returns the next event read from the underlying reader. At the end of
// input it returns io.EOF, or io.ErrUnexpectedEOF when the stream stopped in
// the middle of an event.
func (d *Decoder) Next() (core.Event, error) {
	if d.readBuf == nil {
		d.readBuf = make([]byte, 4096)
	}
	for len(d.pending) == 0 {
		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.pending = append(d.pending, d.Feed(d.readBuf[:n])...)
		}
		if err != nil {
			if len(d.pending) > 0 {
				break
			}
			if err == io.EOF && d.Partial() {
				return core.Event{}, io.ErrUnexpectedEOF
			}
			return core.Event{}, err
		}
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}
