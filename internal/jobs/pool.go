package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
)

// Pool runs jobs on a fixed set of workers. All workers pull from a single
// shared queue, so load balances naturally.
type Pool struct {
	name        string
	logger      *slog.Logger
	workerCount int

	queue chan Job

	retryable  func(error) bool
	attempts   uint
	retryDelay time.Duration

	stopped   atomic.Bool
	inFlight  atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name        string
	Logger      *slog.Logger
	WorkerCount int // default 4
	QueueSize   int // default 10000

	// Retryable reports whether a failed job should be tried again.
	// Nil means never retry.
	Retryable func(error) bool
	// MaxAttempts bounds tries per job including the first (default 5).
	MaxAttempts uint
	// RetryDelay is the first backoff delay (default 100ms).
	RetryDelay time.Duration
}

// PoolStatus reports a pool's current state.
type PoolStatus struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	InFlight   int    `json:"in_flight"`
	QueueDepth int    `json:"queue_depth"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
}

// NewPool creates a pool. Jobs may be submitted before Start; they wait in
// the queue.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "pipeline"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	return &Pool{
		name:        name,
		logger:      logger.With("pool", name, "workers", cfg.WorkerCount),
		workerCount: cfg.WorkerCount,
		queue:       make(chan Job, cfg.QueueSize),
		retryable:   cfg.Retryable,
		attempts:    cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Start runs the workers and blocks until ctx is cancelled and every
// in-flight job has returned.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	<-ctx.Done()
	p.stopped.Store(true)
	wg.Wait()
	p.logger.Info("pool stopped", "abandoned", len(p.queue))
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.inFlight.Add(1)
			err := p.run(ctx, job)
			p.inFlight.Add(-1)

			if err != nil {
				p.failed.Add(1)
				p.logger.Warn("job failed", "worker_id", id, "type", job.Type(), "error", err)
			} else {
				p.completed.Add(1)
			}
			if f, ok := job.(Finisher); ok {
				f.Finish(err)
			}
		}
	}
}

// run executes job, retrying errors the pool was told are transient.
func (p *Pool) run(ctx context.Context, job Job) error {
	return retry.Do(
		func() error { return p.execute(ctx, job) },
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return p.retryable != nil && p.retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Debug("retrying job", "type", job.Type(), "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
}

func (p *Pool) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "type", job.Type(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.Type(), r)
		}
	}()
	return job.Execute(ctx)
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	if p.stopped.Load() {
		return fmt.Errorf("%w: %s", ErrPoolStopped, p.name)
	}
	select {
	case p.queue <- job:
		return nil
	default:
		p.logger.Warn("pool queue full", "type", job.Type())
		return fmt.Errorf("%w: %s", ErrWorkerQueueFull, p.name)
	}
}

// Status returns current pool status.
func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Name:       p.name,
		Workers:    p.workerCount,
		InFlight:   int(p.inFlight.Load()),
		QueueDepth: len(p.queue),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
	}
}
