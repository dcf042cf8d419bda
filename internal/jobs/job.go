// Package jobs runs background work on a fixed set of workers sharing one
// bounded queue.
package jobs

import (
	"context"
	"errors"
)

// Sentinel errors for the jobs package.
var (
	// ErrWorkerQueueFull is returned by Submit when the queue has no room.
	ErrWorkerQueueFull = errors.New("worker queue full")

	// ErrPoolStopped is returned by Submit after the pool has shut down.
	ErrPoolStopped = errors.New("pool stopped")
)

// Job is a unit of background work.
type Job interface {
	// Type names the kind of job for logs and status, e.g. "advance".
	Type() string

	// Execute runs the job. It may be called more than once when the pool
	// retries, so it must be safe to repeat.
	Execute(ctx context.Context) error
}

// Finisher is implemented by jobs that want their final result.
type Finisher interface {
	Finish(err error)
}

// Func adapts a function to the Job interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (f Func) Type() string                      { return f.Name }
func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }
