package workerpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrPoolSaturated is returned by Submit when the pool's queue is full.
	ErrPoolSaturated = errors.New("pool saturated")
	ErrPoolClosed    = errors.New("pool closed")
)

const (
	minWorkers    = 1
	minQueueDepth = 1
)

// Job is one unit of work executed by a pool worker.
type Job func(ctx context.Context)

// Options sizes one pool. RatePerSec <= 0 disables throttling.
type Options struct {
	Workers    int
	QueueDepth int
	RatePerSec int
}

// Pool is a fixed set of goroutines draining a bounded queue.
type Pool struct {
	name    string
	workers int
	jobs    chan Job
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func New(name string, opts Options, logger *zap.Logger) (*Pool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pool name is required")
	}
	if opts.Workers < minWorkers {
		opts.Workers = minWorkers
	}
	if opts.QueueDepth < minQueueDepth {
		opts.QueueDepth = minQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:    name,
		workers: opts.Workers,
		jobs:    make(chan Job, opts.QueueDepth),
		logger:  logger.With(zap.String("pool", name)),
	}
	if opts.RatePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}

	return p, nil
}

func (p *Pool) Name() string { return p.name }

// Start launches the workers. Jobs run with ctx; cancelling it does not
// abandon queued jobs, Close drains them.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i+1)
	}
}

// Submit enqueues job without blocking. A full queue yields ErrPoolSaturated.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("pool throttle wait failed", zap.Int("workerId", workerID), zap.Error(err))
			}
		}
		p.run(ctx, workerID, job)
	}
}

func (p *Pool) run(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool job panicked",
				zap.Int("workerId", workerID),
				zap.Any("panic", r),
			)
		}
	}()

	job(ctx)
}
