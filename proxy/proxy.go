// Package proxy implements the flowscribe logging reverse-proxy for
// chat completion APIs. It forwards requests to the upstream inference
// backend, relays buffered or streamed responses byte-for-byte, and appends
// one log record per request to the configured record store.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/flowscribe/flowscribe/pkg/llm"
	"github.com/flowscribe/flowscribe/pkg/metrics"
	"github.com/flowscribe/flowscribe/pkg/record"
	"github.com/flowscribe/flowscribe/proxy/header"
	"github.com/flowscribe/flowscribe/proxy/upstream"
	"github.com/flowscribe/flowscribe/proxy/worker"
)

// completionsPath is the one endpoint the proxy serves and forwards.
const completionsPath = "/v1/chat/completions"

// Proxy is the logging reverse-proxy. It is transparent on the response
// path: whatever the upstream sends, buffered or streamed, reaches the
// caller unmodified while a copy is captured for the record log.
type Proxy struct {
	config  Config
	store   record.Store
	pool    *worker.Pool
	metrics *metrics.Metrics
	backend *upstream.Client
	headers *header.Handler
	logger  *zap.Logger
	server  *fiber.App
	stats   *trafficStats
	done    chan struct{}
	closer  sync.Once
}

// New creates a Proxy appending records to store. The store is owned by the
// caller and must outlive the proxy.
func New(config Config, store record.Store, logger *zap.Logger) (*Proxy, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	config = config.withDefaults()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})
	app.Use(compress.New())

	m := metrics.New()

	pool, err := worker.NewPool(&worker.Config{
		Store:      store,
		Metrics:    m,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		config:  config,
		store:   store,
		pool:    pool,
		metrics: m,
		backend: upstream.NewClient(config.UpstreamURL, config.UpstreamTimeout, logger),
		headers: header.NewHandler(),
		logger:  logger,
		server:  app,
		stats:   newTrafficStats(),
		done:    make(chan struct{}),
	}

	app.Post(completionsPath, p.handleChatCompletion)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	if config.StatusInterval > 0 {
		go p.statusLoop()
	}

	return p, nil
}

// Run starts the proxy server on the configured listen address.
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("upstream", p.config.UpstreamURL),
		zap.String("identity_header", p.config.IdentityHeader),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server on the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		zap.String("listen", listener.Addr().String()),
		zap.String("upstream", p.config.UpstreamURL),
	)

	return p.server.Listener(listener)
}

// Close shuts the server down and drains the append worker pool, so every
// finalized record reaches the store before Close returns. Safe to call more
// than once.
func (p *Proxy) Close() error {
	var err error
	p.closer.Do(func() {
		close(p.done)
		err = p.server.Shutdown()
		p.pool.Close()
	})
	return err
}

// handleChatCompletion drives one request through its lifecycle:
// parse, forward, relay, finalize. Exactly one record is finalized on every
// path out of this handler.
func (p *Proxy) handleChatCompletion(c *fiber.Ctx) error {
	arrival := time.Now()

	// fasthttp recycles the request buffers after the handler returns;
	// the relay goroutine and the record outlive it, so copy everything
	// that crosses the handler boundary, the header value included
	// (c.Get returns a view into the recycled buffer).
	identity := fiberutils.CopyString(c.Get(p.config.IdentityHeader))
	p.stats.observe(identity)

	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	req, err := llm.ParseChatRequest(body)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		p.logger.Warn("rejecting malformed request",
			zap.String("identity", identity),
			zap.Error(err),
		)
		p.finalize(arrival, identity, req, "", record.OutcomeMalformed, fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	if req.Stream {
		return p.relayStreamed(c, arrival, identity, req)
	}
	return p.relayBuffered(c, arrival, identity, req)
}

// relayBuffered forwards a non-streaming request and sends the upstream body
// back in one piece. The record's response content is that exact body.
func (p *Proxy) relayBuffered(c *fiber.Ctx, arrival time.Time, identity string, req *llm.ChatRequest) error {
	resp, uerr := p.backend.Forward(c.Context(), completionsPath, req.RawBody, func(r *http.Request) {
		p.headers.CopyRequestHeaders(c, r)
	})
	if uerr != nil {
		return p.replyUpstreamError(c, arrival, identity, req, uerr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// The upstream connection died while reading the body. Nothing
		// has been sent downstream yet, so the caller gets a clean 502.
		// A caller disconnect is not observable here: the fasthttp ctx
		// does not cancel on client close, and the failed write would
		// surface later in Send, after the record is finalized.
		p.logger.Error("reading upstream response failed",
			zap.String("identity", identity),
			zap.Error(err),
		)
		p.finalize(arrival, identity, req, string(respBody), record.OutcomeStreamInterrupted, fiber.StatusBadGateway)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "failed to read upstream response"})
	}

	p.headers.CopyResponseHeaders(c, resp)

	p.logger.Debug("relayed buffered response",
		zap.String("identity", identity),
		zap.String("model", req.Model),
		zap.Int("bytes", len(respBody)),
		zap.Duration("duration", time.Since(arrival)),
	)

	p.finalize(arrival, identity, req, string(respBody), record.OutcomeSuccess, resp.StatusCode)
	return c.Status(resp.StatusCode).Send(respBody)
}

// relayStreamed forwards a streaming request and relays the SSE stream
// through an io.Pipe. pw.Write blocks until fasthttp has flushed the bytes
// to the client socket, which gives per-chunk delivery with direct
// backpressure instead of buffering the stream.
func (p *Proxy) relayStreamed(c *fiber.Ctx, arrival time.Time, identity string, req *llm.ChatRequest) error {
	// The relay goroutine outlives the handler and fasthttp recycles its
	// RequestCtx, so the upstream call runs on a background context with
	// its own cancel for the client-abort path.
	ctx, cancel := context.WithCancel(context.Background())

	resp, uerr := p.backend.Forward(ctx, completionsPath, req.RawBody, func(r *http.Request) {
		p.headers.CopyRequestHeaders(c, r)
	})
	if uerr != nil {
		cancel()
		return p.replyUpstreamError(c, arrival, identity, req, uerr)
	}

	p.headers.CopyResponseHeaders(c, resp)

	pr, pw := io.Pipe()
	sink := &stallGuard{pw: pw, pr: pr, timeout: p.config.StallTimeout}
	go p.relayAndFinalize(resp, pw, sink, cancel, arrival, identity, req)

	// Body stream with unknown size (-1) makes fasthttp use chunked
	// transfer encoding on the client leg.
	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

// relayAndFinalize consumes the upstream stream, tees it to the pipe feeding
// the client, and finalizes the record once the stream ends either way.
func (p *Proxy) relayAndFinalize(resp *http.Response, pw *io.PipeWriter, sink io.Writer, cancel context.CancelFunc, arrival time.Time, identity string, req *llm.ChatRequest) {
	// Cancelling the upstream context closes the in-flight call promptly
	// when the relay stops early; closing the body frees the connection.
	defer cancel()
	defer resp.Body.Close()

	res := relayStream(resp.Body, sink)
	pw.CloseWithError(res.err)

	p.metrics.ObserveChunks(res.chunks)

	switch res.outcome {
	case record.OutcomeSuccess:
		p.logger.Debug("stream relay complete",
			zap.String("identity", identity),
			zap.String("model", req.Model),
			zap.Int("chunks", res.chunks),
			zap.Duration("duration", time.Since(arrival)),
		)
	case record.OutcomeClientAbort:
		p.logger.Warn("client disconnected mid-stream",
			zap.String("identity", identity),
			zap.Int("chunks_delivered", res.chunks),
			zap.Error(res.err),
		)
	default:
		p.logger.Error("upstream stream interrupted",
			zap.String("identity", identity),
			zap.Int("chunks_delivered", res.chunks),
			zap.Error(res.err),
		)
	}

	// Headers already went out with 200; the record keeps that status.
	p.finalize(arrival, identity, req, res.content, res.outcome, fiber.StatusOK)
}

// replyUpstreamError converts an upstream failure into the client response
// and the record. The backend's own error body is relayed and captured when
// there is one, for diagnosis.
func (p *Proxy) replyUpstreamError(c *fiber.Ctx, arrival time.Time, identity string, req *llm.ChatRequest, uerr *upstream.Error) error {
	status := uerr.HTTPStatus()
	p.logger.Error("upstream request failed",
		zap.String("identity", identity),
		zap.Int("status", status),
		zap.Error(uerr),
	)

	p.finalize(arrival, identity, req, string(uerr.Body), record.OutcomeUpstreamError, status)

	if len(uerr.Body) > 0 {
		return c.Status(status).Send(uerr.Body)
	}
	return c.Status(status).JSON(llm.ErrorResponse{Error: uerr.Error()})
}

// finalize assembles the record for one finished exchange and hands it to
// the append pool. Every handler path calls finalize exactly once.
func (p *Proxy) finalize(arrival time.Time, identity string, req *llm.ChatRequest, response string, outcome record.Outcome, status int) {
	rec := &record.Record{
		ID:         record.NewID(),
		Identity:   identity,
		Response:   response,
		Outcome:    outcome,
		Status:     status,
		Timestamp:  arrival.UTC(),
		DurationMs: time.Since(arrival).Milliseconds(),
	}
	if req != nil {
		rec.Model = req.Model
		rec.Messages = req.Messages
	}

	p.metrics.ObserveRequest(outcome)
	p.pool.Enqueue(rec)
}

// statusLoop periodically logs traffic totals until Close.
func (p *Proxy) statusLoop() {
	ticker := time.NewTicker(p.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			total, unique := p.stats.snapshot()
			p.logger.Info("traffic status",
				zap.Uint64("total_requests", total),
				zap.Int("unique_identities", unique),
			)
		}
	}
}
