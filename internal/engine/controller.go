package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/underwrite/internal/store"
)

// EditStageOutput replaces the output of stage with a human-supplied value.
// Everything after stage is invalidated and the document goes back to
// pending; the edited stage is kept as ground truth.
//
// Validation and the revision check both happen before anything is written,
// so a rejected edit leaves the document untouched.
func (e *Engine) EditStageOutput(ctx context.Context, id string, stage int, output json.RawMessage, expectedRevision int64) (store.Document, error) {
	desc, ok := e.table.At(stage)
	if !ok {
		return store.Document{}, fmt.Errorf("%w: %d", ErrInvalidStage, stage)
	}
	if err := e.table.Validate(stage, output); err != nil {
		return store.Document{}, err
	}

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return store.Document{}, err
	}
	defer unlock()

	now := e.now().UTC()
	doc, err := e.store.Update(ctx, id, expectedRevision, func(d *store.Document) error {
		if first := d.FirstUndefined(); first < stage {
			return fmt.Errorf("%w: stage %d undefined, edit requested at %d", ErrStageGap, first, stage)
		}

		var input json.RawMessage
		if prev := d.Stages[stage]; prev != nil {
			input = prev.Input
		} else if in, err := e.table.ResolveInput(stage, d.Source()); err == nil {
			input = in
		}

		d.Stages[stage] = &store.StageOutput{
			Stage:       desc.Name,
			Input:       input,
			Output:      compact(output),
			Edited:      true,
			CompletedAt: now,
		}
		d.ClearFrom(stage + 1)
		d.CurrentStage = stage
		d.Revision++
		d.Status = store.StatusPending
		d.Error = ""
		d.ReviewReason = ""
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}

	e.logger.Info("stage output edited", "document_id", id, "stage", desc.Name, "revision", doc.Revision)
	return doc, nil
}

// RerunFromStage invalidates stage and everything after it, then runs the
// pipeline from stage. A rerun always counts as a mutation, so repeating it
// with the same expected revision is a conflict rather than a second run.
func (e *Engine) RerunFromStage(ctx context.Context, id string, stage int, expectedRevision int64) (Result, error) {
	if _, ok := e.table.At(stage); !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidStage, stage)
	}

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	doc, err := e.store.Update(ctx, id, expectedRevision, func(d *store.Document) error {
		if first := d.FirstUndefined(); first < stage {
			return fmt.Errorf("%w: stage %d undefined, rerun requested from %d", ErrStageGap, first, stage)
		}
		d.ClearFrom(stage)
		d.CurrentStage = stage
		d.Revision++
		d.Status = store.StatusPending
		d.Error = ""
		d.ReviewReason = ""
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("rerun requested", "document_id", id, "stage", stage, "revision", doc.Revision)

	return e.advanceLocked(ctx, id, stage)
}

// ContinueFrom resumes a document after its last defined stage without
// recomputing anything already there, typically right after an edit.
func (e *Engine) ContinueFrom(ctx context.Context, id string, expectedRevision int64) (Result, error) {
	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	doc, err := e.store.Get(id)
	if err != nil {
		return Result{}, err
	}
	if expectedRevision != store.AnyRevision && doc.Revision != expectedRevision {
		return Result{}, &store.ConflictError{Expected: expectedRevision, Current: doc.Revision}
	}

	return e.advanceLocked(ctx, id, doc.FirstUndefined())
}

// CheckRevision reports a conflict if the document's current revision is not
// expectedRevision. It takes no lock; callers use it to reject stale requests
// early before queueing work that repeats the check under the lock.
func (e *Engine) CheckRevision(id string, expectedRevision int64) error {
	doc, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if expectedRevision != store.AnyRevision && doc.Revision != expectedRevision {
		return &store.ConflictError{Expected: expectedRevision, Current: doc.Revision}
	}
	return nil
}
