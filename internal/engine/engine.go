// Package engine advances documents through the stage table and applies
// human corrections. Every operation on one document runs under that
// document's lock, so engine runs, edits and reruns never interleave.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/underwrite/internal/keylock"
	"github.com/jackzampolin/underwrite/internal/metrics"
	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Sentinel errors for the engine package.
var (
	ErrInvalidStage = errors.New("stage index out of range")
	ErrLockTimeout  = errors.New("document lock timeout")
	ErrStaleAdvance = errors.New("stale advance")
	ErrStageGap     = errors.New("earlier stage has no output")
)

const (
	DefaultStageTimeout = 2 * time.Minute
	DefaultLockTimeout  = 5 * time.Second
)

// Notifier is told when a document starts and stops processing.
type Notifier interface {
	ProcessingChanged(documentID string, processing bool, err error)
}

// ReviewFunc inspects a document that finished every stage and reports
// whether a human must look at it before it counts as completed.
type ReviewFunc func(doc store.Document) (review bool, reason string)

// Config configures an Engine.
type Config struct {
	Table *pipeline.Table
	Store *store.Store

	// StageTimeout bounds one executor call (default 2m).
	StageTimeout time.Duration
	// LockTimeout bounds waiting for a busy document (default 5s).
	LockTimeout time.Duration

	Logger   *slog.Logger
	Notifier Notifier
	Metrics  *metrics.Recorder
	Review   ReviewFunc
}

// Engine runs documents through the stage table.
type Engine struct {
	table    *pipeline.Table
	store    *store.Store
	locks    *keylock.Map
	logger   *slog.Logger
	notifier Notifier
	metrics  *metrics.Recorder
	review   ReviewFunc

	stageTimeout atomic.Int64 // nanoseconds
	lockTimeout  time.Duration

	// Retry policy for the write that ends a run.
	finishAttempts uint
	finishDelay    time.Duration

	now func() time.Time
}

// Result describes how an engine run ended. A stage failure is recorded on
// the document and reported in StageErr; it is not an error of the call.
type Result struct {
	DocumentID string       `json:"document_id"`
	From       int          `json:"from"`
	Last       int          `json:"last"`
	Status     store.Status `json:"status"`
	Revision   int64        `json:"revision"`
	StageErr   error        `json:"-"`
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Table == nil || cfg.Store == nil {
		return nil, errors.New("engine requires a table and a store")
	}
	if cfg.Store.StageCount() != cfg.Table.Len() {
		return nil, fmt.Errorf("store has %d stage slots, table has %d stages",
			cfg.Store.StageCount(), cfg.Table.Len())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	e := &Engine{
		table:       cfg.Table,
		store:       cfg.Store,
		locks:       keylock.New(),
		logger:      logger,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		review:      cfg.Review,
		lockTimeout: cfg.LockTimeout,

		finishAttempts: 4,
		finishDelay:    100 * time.Millisecond,

		now: time.Now,
	}
	e.stageTimeout.Store(int64(cfg.StageTimeout))
	return e, nil
}

// Table returns the stage table.
func (e *Engine) Table() *pipeline.Table { return e.table }

// Store returns the document store.
func (e *Engine) Store() *store.Store { return e.store }

// SetStageTimeout changes the executor timeout for runs that start later.
func (e *Engine) SetStageTimeout(d time.Duration) {
	if d > 0 {
		e.stageTimeout.Store(int64(d))
	}
}

// Busy reports whether an engine operation holds the document.
func (e *Engine) Busy(id string) bool {
	return e.locks.Held(id)
}

// Advance runs document id through every stage starting at from. from may
// equal the stage count, in which case only the completion review runs.
//
// The document must not have moved past from: that is checked after the
// lock is held and reported as ErrStaleAdvance.
func (e *Engine) Advance(ctx context.Context, id string, from int) (Result, error) {
	if from < 0 || from > e.table.Len() {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidStage, from)
	}

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	return e.advanceLocked(ctx, id, from)
}

func (e *Engine) lock(ctx context.Context, id string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	unlock, err := e.locks.Lock(lctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, id, e.lockTimeout)
	}
	return unlock, nil
}

// advanceLocked is Advance with the document lock already held.
func (e *Engine) advanceLocked(ctx context.Context, id string, from int) (res Result, err error) {
	doc, err := e.store.Get(id)
	if err != nil {
		return Result{}, err
	}
	if doc.CurrentStage > from {
		return Result{}, fmt.Errorf("%w: %s is at stage %d, advance requested from %d",
			ErrStaleAdvance, id, doc.CurrentStage, from)
	}
	if first := doc.FirstUndefined(); first < from {
		return Result{}, fmt.Errorf("%w: %s stage %d undefined, advance requested from %d",
			ErrStageGap, id, first, from)
	}

	// Writes from here on must land even if the caller goes away, or the
	// document would be left processing.
	wctx := context.WithoutCancel(ctx)
	logger := e.logger.With("document_id", id)
	started := e.now().UTC()

	doc, err = e.store.Update(wctx, id, store.AnyRevision, func(d *store.Document) error {
		if d.ClearFrom(from) {
			d.Revision++
		}
		if from < len(d.Stages) {
			d.CurrentStage = from
		}
		d.Status = store.StatusProcessing
		d.ProcessingStartedAt = &started
		d.ProcessingEndedAt = nil
		d.ProcessingMillis = 0
		d.Error = ""
		d.ReviewReason = ""
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("start processing %s: %w", id, err)
	}
	e.notify(id, true, nil)
	logger.Info("advance started", "from", from, "revision", doc.Revision)

	res = Result{DocumentID: id, From: from, Last: from - 1}

	// From here on every exit leaves a terminal status and tells observers
	// processing stopped.
	var endErr error
	defer func() {
		if r := recover(); r != nil {
			logger.Error("advance panicked", "panic", r, "stack", string(debug.Stack()))
			perr := fmt.Errorf("advance %s panicked: %v", id, r)
			d, _ := e.finish(wctx, logger, id, started, res.Last+1, pipeline.Classify("", perr))
			res.Status, res.Revision = d.Status, d.Revision
			res.StageErr = perr
			err = perr
			endErr = perr
		}
		e.notify(id, false, endErr)
	}()

	for i := from; i < e.table.Len(); i++ {
		desc, _ := e.table.At(i)
		stageErr := e.runStage(ctx, wctx, logger, id, i, desc)
		if stageErr != nil {
			d, ferr := e.finish(wctx, logger, id, started, i, stageErr)
			res.Status, res.Revision, res.StageErr = d.Status, d.Revision, stageErr
			endErr = stageErr
			logger.Warn("advance halted", "stage", desc.Name, "status", d.Status, "error", stageErr)
			return res, ferr
		}
		res.Last = i
	}

	d, ferr := e.finish(wctx, logger, id, started, -1, nil)
	res.Status, res.Revision = d.Status, d.Revision
	if ferr != nil {
		endErr = ferr
		return res, ferr
	}
	logger.Info("advance finished", "status", d.Status, "revision", d.Revision,
		"duration_ms", d.ProcessingMillis)
	return res, nil
}

// runStage resolves, executes, validates and persists stage i.
func (e *Engine) runStage(ctx, wctx context.Context, logger *slog.Logger, id string, i int, desc pipeline.Descriptor) *pipeline.StageError {
	logger = logger.With("stage", desc.Name)
	start := e.now()

	doc, err := e.store.Get(id)
	if err != nil {
		return pipeline.Classify(desc.Name, err)
	}
	input, err := e.table.ResolveInput(i, doc.Source())
	if err != nil {
		return e.stageFailed(id, desc, start, pipeline.Classify(desc.Name, err), nil)
	}

	out, err := e.execute(ctx, desc, input)
	if err != nil {
		return e.stageFailed(id, desc, start, pipeline.Classify(desc.Name, err), out.Usage)
	}
	if err := e.table.Validate(i, out.Value); err != nil {
		return e.stageFailed(id, desc, start, pipeline.Classify(desc.Name, pipeline.RecoverableError(err)), out.Usage)
	}

	explanation := out.Explanation
	if !desc.Explains() {
		explanation = nil
	}
	completed := e.now().UTC()
	_, err = e.store.Update(wctx, id, store.AnyRevision, func(d *store.Document) error {
		d.Stages[i] = &store.StageOutput{
			Stage:       desc.Name,
			Input:       input,
			Output:      compact(out.Value),
			Explanation: explanation,
			CompletedAt: completed,
		}
		d.CurrentStage = i
		d.Revision++
		return nil
	})
	if err != nil {
		return e.stageFailed(id, desc, start, pipeline.Classify(desc.Name, err), out.Usage)
	}

	e.record(id, desc, start, metrics.OutcomeCompleted, out.Usage, nil)
	logger.Debug("stage completed", "duration", e.now().Sub(start))
	return nil
}

// execute runs the executor on its own goroutine so a hung or panicking
// executor cannot hold the document past the stage timeout. Cancellation of
// ctx does not interrupt the stage; only the timeout does.
func (e *Engine) execute(ctx context.Context, desc pipeline.Descriptor, input json.RawMessage) (pipeline.Output, error) {
	timeout := time.Duration(e.stageTimeout.Load())
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		out pipeline.Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &pipeline.PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		out, err := desc.Executor.Execute(sctx, desc, input)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-sctx.Done():
		return pipeline.Output{}, fmt.Errorf("stage %s timed out after %s: %w",
			desc.Name, timeout, sctx.Err())
	}
}

func (e *Engine) stageFailed(id string, desc pipeline.Descriptor, start time.Time, se *pipeline.StageError, usage *pipeline.Usage) *pipeline.StageError {
	outcome := metrics.OutcomeNonRecoverable
	if se.Class == pipeline.Recoverable {
		outcome = metrics.OutcomeRecoverable
	}
	e.record(id, desc, start, outcome, usage, se)
	return se
}

// finish records how a run ended. failedAt is the stage that failed, or -1
// when every stage succeeded.
//
// The write is retried with backoff. If the backend still refuses it, the
// document is marked failed in memory so it never stays processing, and the
// write error is returned alongside that document.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, id string, started time.Time, failedAt int, se *pipeline.StageError) (store.Document, error) {
	ended := e.now().UTC()
	apply := func(d *store.Document) {
		d.ProcessingEndedAt = &ended
		d.ProcessingMillis = ended.Sub(started).Milliseconds()

		if se != nil {
			if failedAt >= 0 && failedAt < len(d.Stages) {
				d.CurrentStage = failedAt
			}
			d.Error = se.Error()
			if se.Class == pipeline.Recoverable {
				d.Status = store.StatusRequiresHumanReview
			} else {
				d.Status = store.StatusFailed
			}
			return
		}

		d.Status = store.StatusCompleted
		if e.review != nil {
			if review, reason := e.review(d.Clone()); review {
				d.Status = store.StatusRequiresHumanReview
				d.ReviewReason = reason
			}
		}
	}

	var doc store.Document
	err := retry.Do(
		func() error {
			var err error
			doc, err = e.store.Update(ctx, id, store.AnyRevision, func(d *store.Document) error {
				apply(d)
				return nil
			})
			return err
		},
		retry.Attempts(e.finishAttempts),
		retry.Delay(e.finishDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, store.ErrNotFound) }),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return doc, nil
	}

	logger.Error("recording run outcome failed", "error", err)
	err = fmt.Errorf("record outcome of %s: %w", id, err)
	doc, ferr := e.store.Force(id, func(d *store.Document) {
		apply(d)
		d.Status = store.StatusFailed
		if d.Error != "" {
			d.Error += "; " + err.Error()
		} else {
			d.Error = err.Error()
		}
	})
	if ferr != nil {
		return store.Document{}, errors.Join(err, ferr)
	}
	return doc, err
}

func (e *Engine) notify(id string, processing bool, err error) {
	if e.notifier != nil {
		e.notifier.ProcessingChanged(id, processing, err)
	}
}

func (e *Engine) record(id string, desc pipeline.Descriptor, start time.Time, outcome metrics.Outcome, usage *pipeline.Usage, err error) {
	if e.metrics == nil {
		return
	}
	m := metrics.Metric{
		DocumentID: id,
		Stage:      desc.Name,
		Outcome:    outcome,
		Duration:   e.now().Sub(start),
	}
	if usage != nil {
		m.Provider = usage.Provider
		m.Model = usage.Model
		m.PromptTokens = usage.PromptTokens
		m.CompletionTokens = usage.CompletionTokens
		m.CostUSD = usage.CostUSD
	}
	if err != nil {
		m.Error = err.Error()
	}
	e.metrics.Record(m)
}

// compact strips insignificant whitespace so stored outputs hash stably.
func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
