package proxy

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/flowscribe/flowscribe/pkg/llm"
	"github.com/flowscribe/flowscribe/pkg/record"
	"github.com/flowscribe/flowscribe/pkg/sse"
)

// doneSentinel terminates an OpenAI-style completion stream. It is forwarded
// to the client verbatim but never counted as a chunk.
const doneSentinel = "[DONE]"

// errClientStalled reports a caller that stopped draining its response.
var errClientStalled = errors.New("client stalled, chunk write deadline exceeded")

// stallGuard bounds each relay write with a deadline. The pipe write blocks
// until the client leg has drained the previous bytes, so a connected caller
// that stops reading would otherwise pin the relay goroutine and its upstream
// connection. On expiry the read end is closed, failing the blocked write,
// which the relay classifies as a client abort.
type stallGuard struct {
	pw      *io.PipeWriter
	pr      *io.PipeReader
	timeout time.Duration
}

func (g *stallGuard) Write(p []byte) (int, error) {
	timer := time.AfterFunc(g.timeout, func() {
		g.pr.CloseWithError(errClientStalled)
	})
	defer timer.Stop()
	return g.pw.Write(p)
}

// relayResult is what one pass over a response stream produced.
type relayResult struct {
	// content is the concatenated chunk text, in arrival order.
	content string

	// chunks counts relayed data events, sentinel excluded.
	chunks int

	// outcome classifies how the stream ended.
	outcome record.Outcome

	// err is the terminal error for non-success outcomes.
	err error
}

// relayStream makes a single pass over the upstream SSE stream: every raw
// byte is teed to sink as soon as it is read, while each event's completion
// text is accumulated for the log record. The source is forward-only and
// consumed exactly once.
//
// Termination maps onto outcomes as follows: source exhausted means success
// (an empty stream is a success with empty content); a sink write failure
// means the client went away (client-abort); any other failure means the
// upstream connection dropped mid-stream (stream-interrupted). In every case
// the content captured so far is returned.
func relayStream(src io.Reader, sink io.Writer) relayResult {
	var content strings.Builder
	chunks := 0

	tr := sse.NewTeeReader(src, sink)
	for {
		ev, err := tr.Next()
		if err != nil {
			outcome := record.OutcomeStreamInterrupted
			var sinkErr *sse.SinkError
			if errors.As(err, &sinkErr) {
				outcome = record.OutcomeClientAbort
			}
			return relayResult{
				content: content.String(),
				chunks:  chunks,
				outcome: outcome,
				err:     err,
			}
		}
		if ev == nil {
			break
		}
		if ev.Data == doneSentinel {
			continue
		}

		chunks++
		content.WriteString(llm.ExtractContent([]byte(ev.Data)))
	}

	return relayResult{
		content: content.String(),
		chunks:  chunks,
		outcome: record.OutcomeSuccess,
	}
}
