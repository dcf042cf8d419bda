package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

type recordingJob struct {
	fn       func(ctx context.Context) error
	finished chan error
}

func (j *recordingJob) Type() string                      { return "test" }
func (j *recordingJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (j *recordingJob) Finish(err error)                  { j.finished <- err }

func newRecordingJob(fn func(ctx context.Context) error) *recordingJob {
	return &recordingJob{fn: fn, finished: make(chan error, 1)}
}

func startPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	p := NewPool(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func waitFinish(t *testing.T, j *recordingJob) error {
	t.Helper()
	select {
	case err := <-j.finished:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestPool_RunsJobs(t *testing.T) {
	p := startPool(t, PoolConfig{WorkerCount: 2})

	var ran atomic.Int32
	jobs := make([]*recordingJob, 10)
	for i := range jobs {
		jobs[i] = newRecordingJob(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		if err := p.Submit(jobs[i]); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	for _, j := range jobs {
		if err := waitFinish(t, j); err != nil {
			t.Errorf("job error: %v", err)
		}
	}

	if ran.Load() != 10 {
		t.Errorf("ran = %d, want 10", ran.Load())
	}
	if s := p.Status(); s.Completed != 10 || s.Failed != 0 || s.Workers != 2 {
		t.Errorf("status = %+v", s)
	}
}

func TestPool_RetriesTransientErrors(t *testing.T) {
	p := startPool(t, PoolConfig{
		WorkerCount: 1,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
		RetryDelay:  time.Millisecond,
	})

	var attempts atomic.Int32
	j := newRecordingJob(func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errTransient
		}
		return nil
	})
	p.Submit(j)

	if err := waitFinish(t, j); err != nil {
		t.Fatalf("job error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestPool_DoesNotRetryPermanentErrors(t *testing.T) {
	p := startPool(t, PoolConfig{
		WorkerCount: 1,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
		RetryDelay:  time.Millisecond,
	})

	permanent := errors.New("permanent")
	var attempts atomic.Int32
	j := newRecordingJob(func(ctx context.Context) error {
		attempts.Add(1)
		return permanent
	})
	p.Submit(j)

	if err := waitFinish(t, j); !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
	if p.Status().Failed != 1 {
		t.Errorf("failed = %d, want 1", p.Status().Failed)
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	p := startPool(t, PoolConfig{WorkerCount: 1})

	bad := newRecordingJob(func(ctx context.Context) error { panic("boom") })
	good := newRecordingJob(func(ctx context.Context) error { return nil })
	p.Submit(bad)
	p.Submit(good)

	if err := waitFinish(t, bad); err == nil {
		t.Error("panicking job should report an error")
	}
	if err := waitFinish(t, good); err != nil {
		t.Errorf("worker did not survive panic: %v", err)
	}
}

func TestPool_SubmitQueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	p := NewPool(PoolConfig{Name: "tiny", QueueSize: 1})

	noop := Func{Name: "noop", Fn: func(ctx context.Context) error { return nil }}
	if err := p.Submit(noop); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := p.Submit(noop); !errors.Is(err, ErrWorkerQueueFull) {
		t.Errorf("err = %v, want ErrWorkerQueueFull", err)
	}
	if p.Status().QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", p.Status().QueueDepth)
	}
}

func TestPool_StartBlocksUntilJobsReturn(t *testing.T) {
	p := NewPool(PoolConfig{WorkerCount: 1})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var mu sync.Mutex
	finished := false
	p.Submit(Func{Name: "slow", Fn: func(jobCtx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}})

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	<-started
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Start returned before the in-flight job finished")
	}
	if err := p.Submit(Func{Name: "late", Fn: func(context.Context) error { return nil }}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit after stop = %v, want ErrPoolStopped", err)
	}
}
