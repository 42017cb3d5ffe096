package sse

import (
	"bufio"
	"io"
	"strings"
)

// TeeReader parses SSE events from a source reader while copying every raw
// line, newline included, to a destination writer:
//
//	upstream body ──▶ TeeReader.Next() ──▶ downstream sink (verbatim bytes)
//	                        │
//	                        ▼
//	                     *Event (parsed, for capture)
//
// The destination typically backs an io.Pipe feeding the client response, so
// each line reaches the client before Next returns the event it belongs to.
type TeeReader struct {
	scanner *bufio.Scanner
	sink    io.Writer

	current  *Event
	hasEvent bool
}

// NewTeeReader returns a TeeReader over src that tees all bytes to sink.
func NewTeeReader(src io.Reader, sink io.Writer) *TeeReader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TeeReader{
		scanner: scanner,
		sink:    sink,
		current: &Event{},
	}
}

// Next blocks until a complete event has been read (terminated by a blank
// line) and returns it. It returns nil, nil once the source is exhausted.
// A read failure on the source is returned as-is; a write failure on the
// sink is returned wrapped in *SinkError.
func (r *TeeReader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()

		// The scanner strips the trailing newline; reinsert it so the
		// sink receives the stream byte-for-byte.
		if _, err := io.WriteString(r.sink, line+"\n"); err != nil {
			return nil, &SinkError{Err: err}
		}

		if line == "" {
			// Blank line terminates the in-progress event. Blank
			// lines with nothing accumulated (leading newlines,
			// keep-alives) are passed through and skipped.
			if r.hasEvent {
				return r.take(), nil
			}
			continue
		}

		// Comment lines are forwarded but never parsed.
		if strings.HasPrefix(line, ":") {
			continue
		}

		r.accumulate(line)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a trailing blank line: flush the partial event.
	if r.hasEvent {
		return r.take(), nil
	}

	return nil, nil
}

// accumulate folds one "field:value" line into the event being built.
func (r *TeeReader) accumulate(line string) {
	field, value, ok := strings.Cut(line, ":")
	if !ok {
		// A bare field name with no colon has an empty value.
		field = line
		value = ""
	}
	// A single space after the colon is stripped, per spec.
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		if r.hasEvent && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasEvent = true
	case "event":
		r.current.Type = value
		r.hasEvent = true
	case "id":
		r.current.ID = value
		r.hasEvent = true
	default:
		// "retry" and unknown fields are ignored.
	}
}

// take hands out the completed event and resets for the next one.
func (r *TeeReader) take() *Event {
	ev := r.current
	r.current = &Event{}
	r.hasEvent = false
	return ev
}
