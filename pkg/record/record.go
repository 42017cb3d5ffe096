// Package record defines the persisted log record for one proxied chat
// completion exchange and the Store interface its sinks implement.
package record

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowscribe/flowscribe/pkg/llm"
)

// Outcome classifies how an exchange terminated.
type Outcome string

const (
	// OutcomeSuccess means the full upstream response reached the client.
	OutcomeSuccess Outcome = "success"

	// OutcomeMalformed means the inbound request failed validation and
	// was never forwarded.
	OutcomeMalformed Outcome = "malformed"

	// OutcomeUpstreamError means the upstream was unreachable, timed out,
	// or rejected the request before any completion content was produced.
	OutcomeUpstreamError Outcome = "upstream-error"

	// OutcomeStreamInterrupted means the upstream connection dropped
	// mid-stream; Response holds what was captured up to that point.
	OutcomeStreamInterrupted Outcome = "stream-interrupted"

	// OutcomeClientAbort means the caller disconnected mid-relay;
	// Response holds what the caller actually received.
	OutcomeClientAbort Outcome = "client-abort"
)

// Record is one append-only log entry. It is immutable once handed to a
// Store.
type Record struct {
	// ID is a ULID, so records sort by creation time.
	ID string `json:"id"`

	// Identity is the caller-supplied identity header value, "" when the
	// header was absent.
	Identity string `json:"identity"`

	// Model is the model name the caller requested.
	Model string `json:"model"`

	// Messages is the inbound conversation.
	Messages []llm.Message `json:"messages"`

	// Response is the completion content: the buffered body's content, or
	// the in-order concatenation of streamed chunk content.
	Response string `json:"response"`

	// Outcome classifies how the exchange ended.
	Outcome Outcome `json:"outcome"`

	// Status is the HTTP status the proxy returned to the caller.
	Status int `json:"status"`

	// Timestamp is the request arrival time.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is wall time from arrival to finalization.
	DurationMs int64 `json:"duration_ms"`
}

// NewID returns a fresh ULID string.
func NewID() string {
	return ulid.Make().String()
}
