// Package worker runs fire-and-forget side tasks on a bounded pool.
//
// Tasks wait in a bounded FIFO queue until a worker is free. A task submitted while the
// queue is full, or after Close, is dropped and counted, never retried. Close drains
// whatever is already queued.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/metrics"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 256

// Task is a unit of background work. The context is cancelled when the pool is closed
// past its drain deadline or when the task exceeds the pool's task timeout.
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Pool bounds concurrent background tasks.
type Pool struct {
	mu      sync.Mutex
	closed  bool
	queue   chan job
	limit   int
	workers int
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options configures a Pool.
type Options struct {
	Concurrency int
	QueueSize   int
	TaskTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// New creates a pool. Concurrency below 1 is treated as 1.
// Workers are started on demand and exit once the queue is empty.
func New(opts Options) *Pool {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   make(chan job, size),
		limit:   limit,
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
	}
}

// Submit queues task. It returns false when the task was dropped.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.drop(name, "closed")
		return false
	}

	select {
	case p.queue <- job{name: name, task: task}:
	default:
		p.drop(name, "full")
		return false
	}

	if p.workers < p.limit {
		p.workers++
		p.group.Go(func() error {
			p.drain()
			return nil
		})
	}
	return true
}

// drain runs queued jobs until the queue is empty. The emptiness check and the worker
// count change happen under mu, so a job queued concurrently always has a worker.
func (p *Pool) drain() {
	for {
		p.mu.Lock()
		select {
		case j := <-p.queue:
			p.mu.Unlock()
			p.run(j.name, j.task)
		default:
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := task(ctx); err != nil {
		p.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
	}
}

func (p *Pool) drop(name, reason string) {
	p.metrics.TaskDropped(name)
	p.logger.Warn("background task dropped", zap.String("task", name), zap.String("reason", reason))
}

// Close stops accepting tasks and waits for queued and running ones until ctx is done,
// at which point their contexts are cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
