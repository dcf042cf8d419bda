package hub

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Handle processes one client request on behalf of sub. Failures are
// reported to sub alone and never broadcast.
func (h *Hub) Handle(ctx context.Context, sub *Subscription, req Request) {
	if err := h.handle(ctx, sub, req); err != nil {
		h.replyError(sub, req.RequestID, err)
	}
}

func (h *Hub) handle(ctx context.Context, sub *Subscription, req Request) error {
	switch req.Type {
	case ReqSubscribe:
		return h.subscribe(sub, req)
	case ReqSetPage:
		return h.setPage(sub, req)
	case ReqSetLiveMode:
		return h.setLiveMode(sub, req)
	case ReqMarkSeen:
		return h.markSeen(ctx, sub, req)
	case ReqGetDocument:
		return h.getDocument(sub, req)
	case ReqEditStageOutput:
		return h.editStageOutput(ctx, sub, req)
	case ReqRerunFromStage:
		return h.rerunFromStage(sub, req)
	case ReqContinue:
		return h.continueFrom(sub, req)
	case "":
		return badRequest("missing type")
	}
	return badRequest("unknown type %q", req.Type)
}

func (h *Hub) subscribe(sub *Subscription, req Request) error {
	if sub.Kind != KindDashboard {
		return badRequest("%s feeds do not page", sub.Kind)
	}
	page, size, err := h.pageArgs(req, 1, int(h.defaultSize.Load()))
	if err != nil {
		return err
	}

	sub.mu.Lock()
	sub.page, sub.pageSize = page, size
	if req.LiveMode != nil {
		sub.live = *req.LiveMode
	}
	sub.state = StateActive
	sub.mu.Unlock()

	h.pushPage(sub, h.store.Snapshot(), true)
	return nil
}

func (h *Hub) setPage(sub *Subscription, req Request) error {
	if sub.Kind != KindDashboard {
		return badRequest("%s feeds do not page", sub.Kind)
	}
	cur := sub.View()
	if cur.State != StateActive {
		return badRequest("subscribe before set_page")
	}
	page, size, err := h.pageArgs(req, cur.Page, cur.PageSize)
	if err != nil {
		return err
	}

	sub.mu.Lock()
	sub.page, sub.pageSize = page, size
	sub.mu.Unlock()

	h.pushPage(sub, h.store.Snapshot(), true)
	return nil
}

// setLiveMode toggles live mode. Turning it on jumps back to the first page
// and pushes once; turning it off sends nothing.
func (h *Hub) setLiveMode(sub *Subscription, req Request) error {
	if sub.Kind != KindDashboard {
		return badRequest("%s feeds are always live", sub.Kind)
	}
	if req.LiveMode == nil {
		return badRequest("live_mode is required")
	}

	sub.mu.Lock()
	enable := *req.LiveMode && !sub.live
	sub.live = *req.LiveMode
	if enable {
		sub.page = 1
	}
	active := sub.state == StateActive
	sub.mu.Unlock()

	if enable && active {
		h.pushPage(sub, h.store.Snapshot(), true)
	}
	return nil
}

// pageArgs reads page and page_size from req, falling back to the given
// defaults for absent values. Explicit values below 1, zero included, are
// rejected.
func (h *Hub) pageArgs(req Request, page, size int) (int, int, error) {
	if req.Page != nil {
		page = *req.Page
	}
	if req.PageSize != nil {
		size = *req.PageSize
	}
	if page < 1 {
		return 0, 0, store.ErrInvalidPage
	}
	if size < 1 {
		return 0, 0, store.ErrInvalidPageSize
	}
	return page, min(size, h.maxSize), nil
}

func (h *Hub) markSeen(ctx context.Context, sub *Subscription, req Request) error {
	if req.DocumentID == "" {
		return badRequest("document_id is required")
	}
	doc, err := h.store.Update(ctx, req.DocumentID, store.AnyRevision, func(d *store.Document) error {
		d.Seen = true
		return nil
	})
	if err != nil {
		return err
	}
	h.ack(sub, req, doc.ID, doc.Revision)
	return nil
}

func (h *Hub) getDocument(sub *Subscription, req Request) error {
	id := req.DocumentID
	if id == "" {
		id = sub.DocumentID
	}
	if id == "" {
		return badRequest("document_id is required")
	}
	doc, err := h.store.Get(id)
	if err != nil {
		return err
	}
	h.reply(sub, MsgDocumentDetail, DocumentDetail{Type: MsgDocumentDetail, Document: doc})
	return nil
}

// editStageOutput runs synchronously: it only writes one stage. A busy
// document is waited out with a short backoff rather than reported.
func (h *Hub) editStageOutput(ctx context.Context, sub *Subscription, req Request) error {
	r, id, stage, rev, err := h.mutationArgs(sub, req, true)
	if err != nil {
		return err
	}
	if len(req.Output) == 0 {
		return badRequest("output is required")
	}

	var doc store.Document
	err = retry.Do(
		func() error {
			var err error
			doc, err = r.Engine().EditStageOutput(ctx, id, stage, req.Output, rev)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, engine.ErrLockTimeout) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	h.ack(sub, req, doc.ID, doc.Revision)
	return nil
}

// rerunFromStage checks the revision now, so a stale request fails at once,
// then queues the rerun. The queued job repeats the check under the lock;
// if that fails the requester still gets the error.
func (h *Hub) rerunFromStage(sub *Subscription, req Request) error {
	r, id, stage, rev, err := h.mutationArgs(sub, req, true)
	if err != nil {
		return err
	}
	if err := r.Engine().CheckRevision(id, rev); err != nil {
		return err
	}
	if err := r.Rerun(id, stage, rev, h.reportLate(sub, req)); err != nil {
		return err
	}
	h.ack(sub, req, id, rev)
	return nil
}

func (h *Hub) continueFrom(sub *Subscription, req Request) error {
	r, id, _, rev, err := h.mutationArgs(sub, req, false)
	if err != nil {
		return err
	}
	if err := r.Engine().CheckRevision(id, rev); err != nil {
		return err
	}
	if err := r.Continue(id, rev, h.reportLate(sub, req)); err != nil {
		return err
	}
	h.ack(sub, req, id, rev)
	return nil
}

// reportLate sends request-destined failures of a queued operation back to
// the requester. Stage failures are already on the document.
func (h *Hub) reportLate(sub *Subscription, req Request) engine.DoneFunc {
	return func(_ engine.Result, err error) {
		if err != nil && requestDestined(err) {
			h.replyError(sub, req.RequestID, err)
		}
	}
}

func (h *Hub) mutationArgs(sub *Subscription, req Request, needStage bool) (r *engine.Runner, id string, stage int, rev int64, err error) {
	r = h.runner.Load()
	if r == nil {
		return nil, "", 0, 0, ErrNoController
	}
	id = req.DocumentID
	if id == "" {
		id = sub.DocumentID
	}
	if id == "" {
		return nil, "", 0, 0, badRequest("document_id is required")
	}
	if req.ExpectedRevision == nil {
		return nil, "", 0, 0, badRequest("expected_revision is required")
	}
	if needStage {
		if req.Stage == "" {
			return nil, "", 0, 0, badRequest("stage is required")
		}
		stage, err = r.Engine().Table().Lookup(string(req.Stage))
		if err != nil {
			return nil, "", 0, 0, err
		}
	}
	return r, id, stage, *req.ExpectedRevision, nil
}

func (h *Hub) ack(sub *Subscription, req Request, id string, rev int64) {
	h.reply(sub, MsgAck, Ack{
		Type:       MsgAck,
		RequestID:  req.RequestID,
		Request:    req.Type,
		DocumentID: id,
		Revision:   rev,
	})
}
