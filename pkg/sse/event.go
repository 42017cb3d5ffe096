// Package sse implements a tee-reading SSE (Server-Sent Events) parser for
// the flowscribe relay. It parses events from an upstream chat completion
// stream while forwarding every raw byte verbatim to a downstream writer, so
// the client sees exactly the framing the upstream produced.
//
// The package is read-side only; it deliberately has no SSE writer.
//
// SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event is one parsed SSE event, delimited by a blank line in the stream.
type Event struct {
	// Type holds the "event:" field. Empty means the default "message"
	// type per the SSE spec.
	Type string

	// Data holds the contents of all "data:" lines of the event, joined
	// with "\n" when an event carries multiple data lines.
	Data string

	// ID holds the "id:" field, if the upstream sent one.
	ID string
}

// SinkError wraps a failure to write teed bytes to the downstream sink.
// It lets callers tell a dead client (sink) apart from a dropped upstream
// connection (source), which map to different relay outcomes.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return "sse: writing to sink: " + e.Err.Error()
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
