package defra

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WriteOp is one queued create.
type WriteOp struct {
	Collection string
	Document   map[string]any
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Client        *Client
	BatchSize     int           // flush after N ops (default 100)
	FlushInterval time.Duration // or after this long (default 5s)
	QueueSize     int           // default 1000
	Logger        *slog.Logger
}

// Sink batches fire-and-forget creates, such as metric rows, so that hot
// paths never wait on the database.
type Sink struct {
	client *Client
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan WriteOp
	flush  chan chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a sink. Call Start before sending.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		client:        cfg.Client,
		logger:        cfg.Logger.With("component", "defra_sink"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		flush:         make(chan chan struct{}),
	}
}

// Start runs the batcher until Stop. Writes use ctx.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop drains queued writes and waits for them to finish.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// Send queues op without waiting. A full queue drops op with a warning;
// a stopped sink returns ErrSinkClosed.
func (s *Sink) Send(op WriteOp) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- op:
	default:
		s.logger.Warn("sink queue full, dropping write", "collection", op.Collection)
	}
	return nil
}

// Flush writes the pending batch and waits until it is done.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flush <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]WriteOp, 0, s.batchSize)
	write := func() {
		for _, op := range batch {
			if _, err := s.client.Create(ctx, op.Collection, op.Document); err != nil {
				s.logger.Error("create failed", "collection", op.Collection, "error", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				write()
				return
			}
			batch = append(batch, op)
			if len(batch) >= s.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		case done := <-s.flush:
			// Pull in everything already queued so Flush covers prior Sends.
			for drained := false; !drained; {
				select {
				case op, ok := <-s.queue:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, op)
				default:
					drained = true
				}
			}
			write()
			close(done)
		}
	}
}
