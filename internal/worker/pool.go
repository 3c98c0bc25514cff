// Package worker runs detached fan-out jobs on a fixed set of goroutines fed
// by a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker: pool closed")
)

// Job is one unit of detached work. Its error is only logged.
type Job struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Pool executes jobs in the background.
type Pool struct {
	jobs    chan Job
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New starts workers goroutines reading from a queue of the given size.
func New(workers, queue int, log *zap.Logger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		jobs:    make(chan Job, queue),
		log:     log.With(zap.String("component", "fanout")),
		metrics: m,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.Job("rejected")
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.metrics.Job("rejected")
		return ErrQueueFull
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	if err != nil {
		p.metrics.Job("failed")
		p.log.Warn("detached job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	p.metrics.Job("ok")
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn("fanout drain timed out")
		return ctx.Err()
	}
}
