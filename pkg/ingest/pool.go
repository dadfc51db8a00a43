package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	DefaultNumWorkers = 3
	DefaultQueueSize  = 256
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no room. The
	// block is dropped.
	ErrQueueFull = errors.New("ingest queue full")

	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("ingest pool closed")
)

// Job is a flushed conversation block awaiting ingestion.
type Job struct {
	ConversationID string
	Block          string
}

// Processor is the work each job runs. *Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, conversationID, block string) (Result, error)
}

// PoolConfig is the configuration options for the worker pool.
type PoolConfig struct {
	// Processor handles every job.
	Processor Processor

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool runs extraction and storage off the message path, so a slow model
// call never stalls buffering.
type Pool struct {
	processor Processor
	queue     chan Job
	wg        sync.WaitGroup
	logger    *slog.Logger

	// mu guards closed against concurrent Submit and Close.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c PoolConfig) (*Pool, error) {
	if c.Processor == nil {
		return nil, errors.New("ingest pool requires a processor")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = DefaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		processor: c.Processor,
		queue:     make(chan Job, c.QueueSize),
		logger:    logger.OrNop(c.Logger),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Submit enqueues a block without blocking. Its signature matches
// buffer.FlushFunc so the pool can sit directly behind the message buffer.
func (p *Pool) Submit(_ context.Context, conversationID, block string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- Job{ConversationID: conversationID, Block: block}:
		p.logger.Debug("job queued", "conversation_id", conversationID)
		return nil
	default:
		return fmt.Errorf("%w: dropping block for %s", ErrQueueFull, conversationID)
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
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

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob runs one block to completion. Jobs outlive the request that
// produced them, so they get their own context.
func (p *Pool) processJob(job Job) {
	res, err := p.processor.Process(context.Background(), job.ConversationID, job.Block)
	if err != nil {
		p.logger.Error("ingestion failed",
			"conversation_id", job.ConversationID,
			"error", err,
		)
		return
	}

	p.logger.Info("block ingested",
		"conversation_id", job.ConversationID,
		"extracted", res.Extracted,
		"stored", res.Stored,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
}
