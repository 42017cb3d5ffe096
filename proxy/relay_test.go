package proxy

import (
	"errors"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flowscribe/flowscribe/pkg/record"
)

// brokenWriter fails after accepting limit bytes, standing in for a client
// connection that goes away mid-stream.
type brokenWriter struct {
	limit   int
	written int
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		return 0, errors.New("connection reset by peer")
	}
	w.written += len(p)
	return len(p), nil
}

// truncatedReader yields its content and then an error instead of EOF.
type truncatedReader struct {
	r    io.Reader
	done bool
}

func (t *truncatedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.EOF {
		t.done = true
		return n, errors.New("unexpected EOF")
	}
	return n, err
}

var _ = Describe("relayStream", func() {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: [DONE]\n\n"

	It("accumulates chunk text in order and tees the raw bytes", func() {
		var sink strings.Builder
		res := relayStream(strings.NewReader(stream), &sink)

		Expect(res.outcome).To(Equal(record.OutcomeSuccess))
		Expect(res.err).To(BeNil())
		Expect(res.content).To(Equal("Hello world"))
		Expect(res.chunks).To(Equal(2))
		Expect(sink.String()).To(Equal(stream))
	})

	It("does not count the [DONE] sentinel as a chunk", func() {
		var sink strings.Builder
		res := relayStream(strings.NewReader("data: [DONE]\n\n"), &sink)

		Expect(res.outcome).To(Equal(record.OutcomeSuccess))
		Expect(res.chunks).To(BeZero())
		Expect(res.content).To(BeEmpty())
		Expect(sink.String()).To(Equal("data: [DONE]\n\n"))
	})

	It("treats an empty stream as a success with empty content", func() {
		var sink strings.Builder
		res := relayStream(strings.NewReader(""), &sink)

		Expect(res.outcome).To(Equal(record.OutcomeSuccess))
		Expect(res.content).To(BeEmpty())
		Expect(res.chunks).To(BeZero())
	})

	It("classifies a sink write failure as a client abort", func() {
		sink := &brokenWriter{limit: 10}
		res := relayStream(strings.NewReader(stream), sink)

		Expect(res.outcome).To(Equal(record.OutcomeClientAbort))
		Expect(res.err).To(HaveOccurred())
	})

	It("classifies a source failure as an interrupted stream, keeping partial content", func() {
		var sink strings.Builder
		src := &truncatedReader{r: strings.NewReader(
			"data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"tial\"}}]}\n\n",
		)}
		res := relayStream(src, &sink)

		Expect(res.outcome).To(Equal(record.OutcomeStreamInterrupted))
		Expect(res.err).To(HaveOccurred())
		Expect(res.content).To(Equal("partial"))
	})

	It("aborts a write the client never drains", func() {
		// Nobody reads the pipe, so the first relay write blocks until
		// the guard's deadline fires.
		pr, pw := io.Pipe()
		defer pr.Close()
		sink := &stallGuard{pw: pw, pr: pr, timeout: 20 * time.Millisecond}

		res := relayStream(strings.NewReader(stream), sink)

		Expect(res.outcome).To(Equal(record.OutcomeClientAbort))
		Expect(res.err).To(MatchError(errClientStalled))
		Expect(res.content).To(BeEmpty())
	})

	It("ignores events whose payload carries no completion text", func() {
		var sink strings.Builder
		in := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"
		res := relayStream(strings.NewReader(in), &sink)

		Expect(res.outcome).To(Equal(record.OutcomeSuccess))
		Expect(res.content).To(Equal("hi"))
		Expect(res.chunks).To(Equal(2))
	})
})
