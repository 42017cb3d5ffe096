// Package worker provides the asynchronous worker pool that appends log
// records to the configured record store.
//
// The pool decouples persistence from the proxy's HTTP hot path: a record is
// handed off after the response to the client completes, and an append
// failure can never affect a response that has already been sent.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowscribe/flowscribe/pkg/metrics"
	"github.com/flowscribe/flowscribe/pkg/record"
	"github.com/flowscribe/flowscribe/pkg/utils"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// appendTimeout bounds a single store append so a wedged sink cannot stall
// the pool forever.
const appendTimeout = 30 * time.Second

// responsePreviewLen caps the response excerpt in the stored-record log line.
const responsePreviewLen = 80

// Config holds the worker pool configuration.
type Config struct {
	// Store is the record sink appends go to.
	Store record.Store

	// Metrics receives append success/failure/drop counts. Optional.
	Metrics *metrics.Metrics

	// NumWorkers is the number of background workers (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the zap logger.
	Logger *zap.Logger
}

// Pool appends records asynchronously via a fixed set of workers.
type Pool struct {
	config *Config
	queue  chan *record.Record
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a Pool and starts its workers.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan *record.Record, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := uint(0); i < c.NumWorkers; i++ {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a record for appending. Returns false when the queue is
// full or the pool is closed; the drop is logged loudly and counted, never
// silent.
func (p *Pool) Enqueue(rec *record.Record) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Error("record dropped, pool closed",
			zap.String("record_id", rec.ID),
			zap.String("outcome", string(rec.Outcome)),
		)
		if p.config.Metrics != nil {
			p.config.Metrics.ObserveRecordDropped()
		}
		return false
	}

	select {
	case p.queue <- rec:
		p.logger.Debug("record queued",
			zap.String("record_id", rec.ID),
			zap.String("outcome", string(rec.Outcome)),
		)
		return true
	default:
		p.logger.Error("record dropped, append queue full",
			zap.String("record_id", rec.ID),
			zap.String("identity", rec.Identity),
			zap.String("outcome", string(rec.Outcome)),
		)
		if p.config.Metrics != nil {
			p.config.Metrics.ObserveRecordDropped()
		}
		return false
	}
}

// Close stops accepting records and waits for queued appends to drain. Call
// during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker pulls records off the queue until it is closed.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("append worker started", zap.Uint("worker_id", id))

	for rec := range p.queue {
		p.appendRecord(rec)
	}

	p.logger.Debug("append worker stopped", zap.Uint("worker_id", id))
}

// appendRecord performs one append. Failures are reported once, through the
// log and the append-failure counter, and never retried.
func (p *Pool) appendRecord(rec *record.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := p.config.Store.Append(ctx, rec); err != nil {
		p.logger.Error("record append failed",
			zap.String("record_id", rec.ID),
			zap.String("identity", rec.Identity),
			zap.Error(err),
		)
		if p.config.Metrics != nil {
			p.config.Metrics.ObserveAppendFailure()
		}
		return
	}

	p.logger.Info("record stored",
		zap.String("record_id", rec.ID),
		zap.String("identity", rec.Identity),
		zap.String("model", rec.Model),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("response_preview", utils.Truncate(rec.Response, responsePreviewLen)),
	)
	if p.config.Metrics != nil {
		p.config.Metrics.ObserveRecordStored()
	}
}
