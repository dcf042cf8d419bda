package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackzampolin/underwrite/internal/jobs"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Workers   int
	QueueSize int
	// LockRetries bounds attempts per job when the document is busy.
	LockRetries uint
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// Runner executes engine operations in the background on a worker pool.
// Operations on different documents run concurrently; operations on one
// document queue behind its lock, and lock timeouts are retried with backoff.
type Runner struct {
	engine *Engine
	pool   *jobs.Pool
	logger *slog.Logger
}

// DoneFunc receives the outcome of a background operation.
type DoneFunc func(Result, error)

// NewRunner creates a runner. Start must be called for jobs to run.
func NewRunner(e *Engine, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := jobs.NewPool(jobs.PoolConfig{
		Name:        "engine",
		Logger:      logger,
		WorkerCount: cfg.Workers,
		QueueSize:   cfg.QueueSize,
		Retryable:   func(err error) bool { return errors.Is(err, ErrLockTimeout) },
		MaxAttempts: cfg.LockRetries,
		RetryDelay:  cfg.RetryDelay,
	})
	return &Runner{engine: e, pool: pool, logger: logger}
}

// Start runs the workers until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	return r.pool.Start(ctx)
}

// Engine returns the engine jobs run on.
func (r *Runner) Engine() *Engine {
	return r.engine
}

// Status reports the worker pool.
func (r *Runner) Status() jobs.PoolStatus {
	return r.pool.Status()
}

// Advance queues Advance(id, from).
func (r *Runner) Advance(id string, from int, done DoneFunc) error {
	return r.pool.Submit(&opJob{
		kind: "advance",
		id:   id,
		run: func(ctx context.Context) (Result, error) {
			return r.engine.Advance(ctx, id, from)
		},
		done: done,
	})
}

// Rerun queues RerunFromStage(id, stage, expectedRevision).
func (r *Runner) Rerun(id string, stage int, expectedRevision int64, done DoneFunc) error {
	return r.pool.Submit(&opJob{
		kind: "rerun",
		id:   id,
		run: func(ctx context.Context) (Result, error) {
			return r.engine.RerunFromStage(ctx, id, stage, expectedRevision)
		},
		done: done,
	})
}

// Continue queues ContinueFrom(id, expectedRevision).
func (r *Runner) Continue(id string, expectedRevision int64, done DoneFunc) error {
	return r.pool.Submit(&opJob{
		kind: "continue",
		id:   id,
		run: func(ctx context.Context) (Result, error) {
			return r.engine.ContinueFrom(ctx, id, expectedRevision)
		},
		done: done,
	})
}

// Resume queues documents the store reported as interrupted, continuing
// each from its first undefined stage.
func (r *Runner) Resume(ids []string) int {
	queued := 0
	for _, id := range ids {
		doc, err := r.engine.store.Get(id)
		if err != nil {
			r.logger.Warn("resume skipped", "document_id", id, "error", err)
			continue
		}
		if err := r.Advance(id, doc.FirstUndefined(), nil); err != nil {
			r.logger.Warn("resume not queued", "document_id", id, "error", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		r.logger.Info("resuming documents", "count", queued)
	}
	return queued
}

// opJob adapts one engine operation to the pool.
type opJob struct {
	kind string
	id   string
	run  func(ctx context.Context) (Result, error)
	done DoneFunc

	res Result
}

func (j *opJob) Type() string { return j.kind }

func (j *opJob) Execute(ctx context.Context) error {
	res, err := j.run(ctx)
	j.res = res
	return err
}

func (j *opJob) Finish(err error) {
	if j.done != nil {
		j.done(j.res, err)
	}
}
