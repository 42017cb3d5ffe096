package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flowscribe/flowscribe/pkg/llm"
	"github.com/flowscribe/flowscribe/pkg/record"
	"github.com/flowscribe/flowscribe/pkg/record/inmemory"
)

var _ = Describe("SSE streaming proxying", func() {
	var (
		p        *Proxy
		store    *inmemory.Store
		upstream *httptest.Server
	)

	AfterEach(func() {
		if p != nil {
			p.Close()
		}
		if upstream != nil {
			upstream.Close()
		}
	})

	streamRequest := func() []byte {
		return makeChatRequestBody("gpt-4", []llm.Message{
			{Role: "user", Content: "Say hello"},
		}, boolPtr(true))
	}

	Context("when upstream streams a complete response", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				events := []string{
					"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hello\"}}]}\n\n",
					"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" world\"}}]}\n\n",
					"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"!\"}}]}\n\n",
					"data: [DONE]\n\n",
				}

				for _, event := range events {
					fmt.Fprint(w, event)
					flusher.Flush()
				}
			}))
			p, store = newTestProxy(upstream.URL)
		})

		It("preserves SSE event boundaries with \\n\\n delimiters", func() {
			resp := postCompletion(p, streamRequest(), nil)
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			bodyStr := string(body)

			Expect(bodyStr).To(ContainSubstring("data: {\"id\":\"chatcmpl-1\""))
			Expect(bodyStr).To(ContainSubstring("data: [DONE]\n\n"))
			Expect(strings.Count(bodyStr, "\n\n")).To(BeNumerically(">=", 4))
		})

		It("relays every chunk and the terminator to the client", func() {
			resp := postCompletion(p, streamRequest(), nil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			bodyStr := string(body)

			Expect(bodyStr).To(ContainSubstring(`"content":"Hello"`))
			Expect(bodyStr).To(ContainSubstring(`"content":" world"`))
			Expect(bodyStr).To(ContainSubstring(`"content":"!"`))
			Expect(bodyStr).To(ContainSubstring("[DONE]"))
		})

		It("stores one record per stream under concurrency", func() {
			const n = 100

			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					resp := postCompletion(p, streamRequest(), nil)
					body, err := io.ReadAll(resp.Body)
					Expect(err).NotTo(HaveOccurred())
					Expect(string(body)).To(ContainSubstring("[DONE]"))
					resp.Body.Close()
				}()
			}
			wg.Wait()

			recs := storedRecords(store, n)
			for _, rec := range recs {
				Expect(rec.Response).To(Equal("Hello world!"))
				Expect(rec.Outcome).To(Equal(record.OutcomeSuccess))
			}
		})

		It("stores one record with the accumulated completion text", func() {
			resp := postCompletion(p, streamRequest(), func(req *http.Request) {
				req.Header.Set("user_id", "carol")
			})
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).NotTo(BeEmpty())
			resp.Body.Close()

			recs := storedRecords(store, 1)
			rec := recs[0]

			Expect(rec.Identity).To(Equal("carol"))
			Expect(rec.Model).To(Equal("gpt-4"))
			Expect(rec.Response).To(Equal("Hello world!"))
			Expect(rec.Outcome).To(Equal(record.OutcomeSuccess))
			Expect(rec.Status).To(Equal(http.StatusOK))
		})

		It("keeps each caller's identity across back-to-back streams", func() {
			const n = 30

			for i := 0; i < n; i++ {
				resp := postCompletion(p, streamRequest(), func(req *http.Request) {
					req.Header.Set("user_id", fmt.Sprintf("caller-%02d", i))
				})
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(body).NotTo(BeEmpty())
				resp.Body.Close()
			}

			recs := storedRecords(store, n)
			seen := make(map[string]struct{}, n)
			for _, rec := range recs {
				seen[rec.Identity] = struct{}{}
			}
			for i := 0; i < n; i++ {
				Expect(seen).To(HaveKey(fmt.Sprintf("caller-%02d", i)))
			}
		})
	})

	Context("when upstream interleaves comment keep-alives", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				events := []string{
					": keep-alive\n\n",
					"data: {\"choices\":[{\"delta\":{\"content\":\"OK\"}}]}\n\n",
					"data: [DONE]\n\n",
				}

				for _, event := range events {
					fmt.Fprint(w, event)
					flusher.Flush()
				}
			}))
			p, store = newTestProxy(upstream.URL)
		})

		It("forwards comment lines verbatim and keeps them out of the record", func() {
			resp := postCompletion(p, streamRequest(), nil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			bodyStr := string(body)

			Expect(bodyStr).To(ContainSubstring(": keep-alive\n"))
			Expect(bodyStr).To(ContainSubstring("data: {\"choices\""))

			recs := storedRecords(store, 1)
			Expect(recs[0].Response).To(Equal("OK"))
			Expect(recs[0].Outcome).To(Equal(record.OutcomeSuccess))
		})
	})

	Context("when upstream dies mid-stream", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
				flusher.Flush()

				// Kill the TCP connection without finishing the chunked
				// body, the way a crashing backend would.
				hj, ok := w.(http.Hijacker)
				Expect(ok).To(BeTrue())
				conn, _, err := hj.Hijack()
				Expect(err).NotTo(HaveOccurred())
				conn.Close()
			}))
			p, store = newTestProxy(upstream.URL)
		})

		It("delivers the partial stream and records an interrupted outcome", func() {
			// A truncated chunked body is a transport-level condition, so
			// this goes over a real connection.
			base := startProxy(p)

			resp, err := http.Post(base+completionsPath, "application/json", bytes.NewReader(streamRequest()))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			// The read error is expected: the relay propagates the
			// truncation instead of faking a clean end of stream.
			body, readErr := io.ReadAll(resp.Body)
			Expect(readErr).To(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"content":"Hel"`))

			recs := storedRecords(store, 1)
			Expect(recs[0].Outcome).To(Equal(record.OutcomeStreamInterrupted))
			Expect(recs[0].Response).To(Equal("Hello"))
			Expect(recs[0].Status).To(Equal(http.StatusOK))
		})
	})

	Context("when the caller hangs up mid-stream", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, _ := w.(http.Flusher)

				for i, text := range []string{"one", "two", "three", "four", "five"} {
					if i > 0 {
						time.Sleep(100 * time.Millisecond)
					}
					fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", text)
					flusher.Flush()
				}
			}))
			p, store = newTestProxy(upstream.URL)
		})

		It("still finalizes one record with the chunks that got through", func() {
			base := startProxy(p)
			addr := strings.TrimPrefix(base, "http://")

			body := streamRequest()
			conn, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())

			_, err = fmt.Fprintf(conn,
				"POST %s HTTP/1.1\r\nHost: flowscribe\r\nContent-Type: application/json\r\nuser_id: leaver\r\nContent-Length: %d\r\n\r\n%s",
				completionsPath, len(body), body)
			Expect(err).NotTo(HaveOccurred())

			// Read until the first chunk arrives, then hang up without
			// draining the rest of the stream.
			Expect(conn.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
			var got strings.Builder
			buf := make([]byte, 4096)
			for !strings.Contains(got.String(), `"content":"one"`) {
				n, err := conn.Read(buf)
				Expect(err).NotTo(HaveOccurred())
				got.Write(buf[:n])
			}
			Expect(conn.Close()).To(Succeed())

			recs := storedRecords(store, 1)
			Expect(recs[0].Outcome).To(Equal(record.OutcomeClientAbort))
			Expect(recs[0].Identity).To(Equal("leaver"))
			Expect(recs[0].Status).To(Equal(http.StatusOK))
			Expect(recs[0].Response).To(HavePrefix("one"))
			Expect(recs[0].Response).NotTo(Equal("onetwothreefourfive"))
		})
	})

	Context("when upstream ends the stream without a terminator", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"}}]}\n\n")
			}))
			p, store = newTestProxy(upstream.URL)
		})

		It("treats a clean EOF as success", func() {
			resp := postCompletion(p, streamRequest(), nil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"content":"done"`))

			recs := storedRecords(store, 1)
			Expect(recs[0].Response).To(Equal("done"))
			Expect(recs[0].Outcome).To(Equal(record.OutcomeSuccess))
		})
	})
})
