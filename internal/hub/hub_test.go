package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/store"
)

type fixture struct {
	hub    *Hub
	store  *store.Store
	engine *engine.Engine
	runner *engine.Runner
	base   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	echo := pipeline.ExecutorFunc(func(ctx context.Context, d pipeline.Descriptor, in json.RawMessage) (pipeline.Output, error) {
		return pipeline.Output{Value: json.RawMessage(fmt.Sprintf(`{"value":%q}`, d.Name))}, nil
	})
	schema := json.RawMessage(`{"type":"object","required":["value"]}`)
	table, err := pipeline.NewTable(
		pipeline.Descriptor{Name: "first", DocumentFields: []string{"body"}, Schema: schema, Executor: echo},
		pipeline.Descriptor{Name: "second", InputFields: []string{"first"}, Schema: schema, Executor: echo},
	)
	require.NoError(t, err)

	st, err := store.New(store.Config{StageCount: table.Len()})
	require.NoError(t, err)

	cfg.Store = st
	h := New(cfg)

	eng, err := engine.New(engine.Config{Table: table, Store: st, Notifier: h})
	require.NoError(t, err)
	runner := engine.NewRunner(eng, engine.RunnerConfig{Workers: 2})
	h.Attach(runner)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{}, 2)
	go func() { h.Run(ctx); stopped <- struct{}{} }()
	go func() { runner.Start(ctx); stopped <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-stopped
		<-stopped
	})

	return &fixture{hub: h, store: st, engine: eng, runner: runner, base: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// create inserts a document received n minutes after the fixture's base time.
func (f *fixture) create(t *testing.T, id string, n int) store.Document {
	t.Helper()
	doc, err := f.store.Create(context.Background(), store.Document{
		ID:       id,
		Metadata: store.Metadata{Sender: "a@b.c", Body: "hi", ReceivedAt: f.base.Add(time.Duration(n) * time.Minute)},
	})
	require.NoError(t, err)
	return doc
}

func next(t *testing.T, sub *Subscription) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := sub.Next(ctx)
	require.NoError(t, err, "no message for %s", sub.ID)
	return m
}

func nextOf[T any](t *testing.T, sub *Subscription, typ string) T {
	t.Helper()
	m := next(t, sub)
	require.Equal(t, typ, m.Type, "body: %s", m.Body)
	var v T
	require.NoError(t, json.Unmarshal(m.Body, &v))
	return v
}

// find skips messages of other types until one of typ arrives.
func find[T any](t *testing.T, sub *Subscription, typ string) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := next(t, sub)
		if m.Type != typ {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(m.Body, &v))
		return v
	}
	t.Fatalf("no %s message for %s", typ, sub.ID)
	var zero T
	return zero
}

func quiet(t *testing.T, sub *Subscription) {
	t.Helper()
	assert.Never(t, func() bool { return sub.Pending() > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"unexpected message for %s", sub.ID)
}

type pageRecord struct {
	ID     string       `json:"id"`
	Status store.Status `json:"status"`
	Seen   bool         `json:"seen"`
}

type pageUpdate struct {
	Records    []pageRecord `json:"records"`
	Pagination Pagination   `json:"pagination"`
	LiveMode   bool         `json:"live_mode"`
}

func ids(u pageUpdate) []string {
	out := make([]string, len(u.Records))
	for i, r := range u.Records {
		out[i] = r.ID
	}
	return out
}

func boolPtr(b bool) *bool  { return &b }
func intPtr(n int) *int     { return &n }
func revPtr(r int64) *int64 { return &r }

func subscribe(t *testing.T, f *fixture, page, size int, live bool) (*Subscription, pageUpdate) {
	t.Helper()
	sub := f.hub.NewDashboard()
	f.hub.Handle(context.Background(), sub, Request{Type: ReqSubscribe, Page: intPtr(page), PageSize: intPtr(size), LiveMode: boolPtr(live)})
	return sub, nextOf[pageUpdate](t, sub, MsgDataUpdate)
}

func TestHub_ConnectingReceivesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.hub.NewDashboard()
	assert.Equal(t, StateConnecting, sub.View().State)

	f.create(t, "doc-1", 1)
	quiet(t, sub)
}

func TestHub_SubscribePushesImmediately(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "older", 1)
	f.create(t, "newer", 2)

	sub, u := subscribe(t, f, 1, 10, true)
	assert.Equal(t, StateActive, sub.View().State)
	assert.Equal(t, []string{"newer", "older"}, ids(u))
	assert.Equal(t, Pagination{Page: 1, PageSize: 10, TotalPages: 1, TotalCount: 2}, u.Pagination)
	assert.True(t, u.LiveMode)
}

func TestHub_EmptySetHasOnePage(t *testing.T) {
	f := newFixture(t, Config{})
	_, u := subscribe(t, f, 1, 10, true)
	assert.Empty(t, u.Records)
	assert.Equal(t, 1, u.Pagination.TotalPages)
	assert.Equal(t, 0, u.Pagination.TotalCount)
}

func TestHub_LiveObserversReceiveInsertions(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "doc-1", 1)

	a, _ := subscribe(t, f, 1, 10, true)
	b, _ := subscribe(t, f, 1, 10, true)

	f.create(t, "doc-2", 2)

	for _, sub := range []*Subscription{a, b} {
		u := nextOf[pageUpdate](t, sub, MsgDataUpdate)
		assert.Equal(t, []string{"doc-2", "doc-1"}, ids(u))
		assert.Equal(t, 2, u.Pagination.TotalCount)
	}
}

func TestHub_FrozenObserverGetsNothingUnsolicited(t *testing.T) {
	f := newFixture(t, Config{})
	live, _ := subscribe(t, f, 1, 10, true)
	frozen, _ := subscribe(t, f, 1, 10, false)

	doc := f.create(t, "doc-1", 1)
	nextOf[pageUpdate](t, live, MsgDataUpdate)

	// A full engine run produces processing updates and many writes.
	_, err := f.engine.Advance(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	find[ProcessingUpdate](t, live, MsgProcessingUpdate)

	quiet(t, frozen)

	// Explicit requests are still answered, from a fresh snapshot.
	f.hub.Handle(context.Background(), frozen, Request{Type: ReqSetPage, Page: intPtr(1)})
	u := nextOf[pageUpdate](t, frozen, MsgDataUpdate)
	require.Len(t, u.Records, 1)
	assert.Equal(t, store.StatusCompleted, u.Records[0].Status)
	assert.False(t, u.LiveMode)
}

func TestHub_UnchangedPageIsNotRepushed(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "older", 1)
	f.create(t, "newer", 2)

	sub, u := subscribe(t, f, 1, 1, true)
	require.Equal(t, []string{"newer"}, ids(u))

	// Off-page change: page 1 renders identically.
	_, err := f.store.Update(context.Background(), "older", store.AnyRevision, func(d *store.Document) error {
		d.Seen = true
		return nil
	})
	require.NoError(t, err)
	quiet(t, sub)

	_, err = f.store.Update(context.Background(), "newer", store.AnyRevision, func(d *store.Document) error {
		d.Seen = true
		return nil
	})
	require.NoError(t, err)
	u = nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.True(t, u.Records[0].Seen)
}

func TestHub_SetLiveMode(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 3; i++ {
		f.create(t, fmt.Sprintf("doc-%d", i), i)
	}

	sub, _ := subscribe(t, f, 2, 1, false)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetLiveMode, LiveMode: boolPtr(false)})
	quiet(t, sub)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetLiveMode, LiveMode: boolPtr(true)})
	u := nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.Equal(t, 1, u.Pagination.Page, "enabling live mode returns to page 1")
	assert.True(t, u.LiveMode)

	// Already live: no push.
	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetLiveMode, LiveMode: boolPtr(true)})
	quiet(t, sub)
}

func TestHub_SetPage(t *testing.T) {
	f := newFixture(t, Config{MaxPageSize: 2})
	for i := 0; i < 5; i++ {
		f.create(t, fmt.Sprintf("doc-%d", i), i)
	}
	sub, _ := subscribe(t, f, 1, 2, true)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, Page: intPtr(3)})
	u := nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.Equal(t, []string{"doc-0"}, ids(u))
	assert.Equal(t, 3, u.Pagination.TotalPages)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, Page: intPtr(9)})
	u = nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.Empty(t, u.Records, "past the last page is empty, not an error")

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, Page: intPtr(1), PageSize: intPtr(50)})
	u = nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.Equal(t, 2, u.Pagination.PageSize, "page size is capped")
}

func TestHub_RequestErrorsGoToRequesterOnly(t *testing.T) {
	f := newFixture(t, Config{})
	other, _ := subscribe(t, f, 1, 10, true)
	sub, _ := subscribe(t, f, 1, 10, true)

	tests := []struct {
		req  Request
		code string
	}{
		{Request{Type: ReqSetPage, Page: intPtr(-1), RequestID: "r1"}, CodeInvalidRequest},
		{Request{Type: ReqSubscribe, PageSize: intPtr(-5), RequestID: "r2"}, CodeInvalidRequest},
		{Request{Type: "bogus", RequestID: "r3"}, CodeInvalidRequest},
		{Request{Type: ReqSetLiveMode, RequestID: "r4"}, CodeInvalidRequest},
		{Request{Type: ReqMarkSeen, DocumentID: "missing", RequestID: "r5"}, CodeNotFound},
		{Request{Type: ReqGetDocument, DocumentID: "missing", RequestID: "r6"}, CodeNotFound},
		{Request{Type: ReqEditStageOutput, DocumentID: "missing", Stage: "first", RequestID: "r7"}, CodeInvalidRequest},
	}
	for _, tt := range tests {
		f.hub.Handle(context.Background(), sub, tt.req)
		e := nextOf[ErrorMessage](t, sub, MsgError)
		assert.Equal(t, tt.code, e.Code, "request %s", tt.req.RequestID)
		assert.Equal(t, tt.req.RequestID, e.RequestID)
	}
	quiet(t, other)
}

func TestHub_ExplicitZeroPageSizeRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "doc-1", 1)

	sub := f.hub.NewDashboard()
	f.hub.Handle(context.Background(), sub, Request{Type: ReqSubscribe, Page: intPtr(1), PageSize: intPtr(0), RequestID: "zero"})
	e := nextOf[ErrorMessage](t, sub, MsgError)
	assert.Equal(t, CodeInvalidRequest, e.Code)
	assert.Equal(t, "zero", e.RequestID)
	assert.Equal(t, StateConnecting, sub.View().State, "a rejected subscribe does not activate")

	// Omitting page_size still means the default.
	f.hub.Handle(context.Background(), sub, Request{Type: ReqSubscribe, Page: intPtr(1)})
	u := nextOf[pageUpdate](t, sub, MsgDataUpdate)
	assert.Equal(t, DefaultPageSize, u.Pagination.PageSize)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, PageSize: intPtr(0), RequestID: "zero-again"})
	e = nextOf[ErrorMessage](t, sub, MsgError)
	assert.Equal(t, CodeInvalidRequest, e.Code)
	assert.Equal(t, DefaultPageSize, sub.View().PageSize)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, Page: intPtr(0), RequestID: "page-zero"})
	e = nextOf[ErrorMessage](t, sub, MsgError)
	assert.Equal(t, CodeInvalidRequest, e.Code)
}

func TestHub_SetPageRequiresSubscribe(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "doc-1", 1)

	sub := f.hub.NewDashboard()
	f.hub.Handle(context.Background(), sub, Request{Type: ReqSetPage, Page: intPtr(2), RequestID: "early"})
	e := nextOf[ErrorMessage](t, sub, MsgError)
	assert.Equal(t, CodeInvalidRequest, e.Code)
	assert.Equal(t, "early", e.RequestID)

	v := sub.View()
	assert.Equal(t, StateConnecting, v.State)
	assert.Equal(t, 1, v.Page)
	quiet(t, sub)
}

func TestHub_MarkSeenBroadcasts(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.create(t, "doc-1", 1)
	watcher, _ := subscribe(t, f, 1, 10, true)
	sub, _ := subscribe(t, f, 1, 10, false)

	f.hub.Handle(context.Background(), sub, Request{Type: ReqMarkSeen, DocumentID: doc.ID, RequestID: "seen"})
	ack := nextOf[Ack](t, sub, MsgAck)
	assert.Equal(t, ReqMarkSeen, ack.Request)
	assert.Equal(t, doc.Revision, ack.Revision, "seen is not a revision")

	u := nextOf[pageUpdate](t, watcher, MsgDataUpdate)
	assert.True(t, u.Records[0].Seen)
}

func TestHub_EditAndRerun(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.create(t, "doc-1", 1)
	res, err := f.engine.Advance(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	sub, _ := subscribe(t, f, 1, 10, false)

	edit := func(id, stage, output string, rev int64) {
		f.hub.Handle(context.Background(), sub, Request{
			Type: ReqEditStageOutput, RequestID: id, DocumentID: doc.ID,
			Stage: StageRef(stage), Output: json.RawMessage(output), ExpectedRevision: revPtr(rev),
		})
	}

	edit("bad-schema", "0", `{"other": 1}`, res.Revision)
	assert.Equal(t, CodeSchemaInvalid, nextOf[ErrorMessage](t, sub, MsgError).Code)

	edit("stale", "first", `{"value":"x"}`, res.Revision-1)
	assert.Equal(t, CodeRevisionConflict, nextOf[ErrorMessage](t, sub, MsgError).Code)

	edit("unknown-stage", "third", `{"value":"x"}`, res.Revision)
	assert.Equal(t, CodeInvalidRequest, nextOf[ErrorMessage](t, sub, MsgError).Code)

	edit("ok", "first", `{"value":"x"}`, res.Revision)
	ack := nextOf[Ack](t, sub, MsgAck)
	assert.Equal(t, "ok", ack.RequestID)
	assert.Equal(t, res.Revision+1, ack.Revision)

	edited, _ := f.store.Get(doc.ID)
	assert.Equal(t, store.StatusPending, edited.Status)
	assert.False(t, edited.Defined(1))

	rerun := Request{Type: ReqRerunFromStage, RequestID: "rerun", DocumentID: doc.ID, Stage: "0", ExpectedRevision: revPtr(ack.Revision)}
	f.hub.Handle(context.Background(), sub, rerun)
	assert.Equal(t, "rerun", nextOf[Ack](t, sub, MsgAck).RequestID)

	require.Eventually(t, func() bool {
		d, _ := f.store.Get(doc.ID)
		return d.Status == store.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Same revision again: conflict, reported synchronously.
	f.hub.Handle(context.Background(), sub, rerun)
	assert.Equal(t, CodeRevisionConflict, nextOf[ErrorMessage](t, sub, MsgError).Code)
}

func TestHub_Continue(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.create(t, "doc-1", 1)
	_, err := f.engine.Advance(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	edited, err := f.engine.EditStageOutput(context.Background(), doc.ID, 0, json.RawMessage(`{"value":"x"}`), 2)
	require.NoError(t, err)

	feed, err := f.hub.NewDocumentFeed(doc.ID)
	require.NoError(t, err)
	nextOf[DocumentDetail](t, feed, MsgDocumentDetail)

	f.hub.Handle(context.Background(), feed, Request{Type: ReqContinue, ExpectedRevision: revPtr(edited.Revision)})
	assert.Equal(t, ReqContinue, find[Ack](t, feed, MsgAck).Request)

	require.Eventually(t, func() bool {
		d, _ := f.store.Get(doc.ID)
		return d.Status == store.StatusCompleted && d.Stages[0].Edited
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ProcessingUpdatesRouting(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.create(t, "doc-1", 1)
	f.create(t, "doc-2", 2)

	live, _ := subscribe(t, f, 1, 10, true)
	frozen, _ := subscribe(t, f, 1, 10, false)
	mine, err := f.hub.NewDocumentFeed(doc.ID)
	require.NoError(t, err)
	theirs, err := f.hub.NewDocumentFeed("doc-2")
	require.NoError(t, err)
	nextOf[DocumentDetail](t, mine, MsgDocumentDetail)
	nextOf[DocumentDetail](t, theirs, MsgDocumentDetail)

	f.hub.ProcessingChanged(doc.ID, true, nil)

	for _, sub := range []*Subscription{live, mine} {
		u := nextOf[ProcessingUpdate](t, sub, MsgProcessingUpdate)
		assert.Equal(t, doc.ID, u.DocumentID)
		assert.True(t, u.Processing)
	}
	quiet(t, frozen)
	quiet(t, theirs)
}

func TestHub_DocumentFeed(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.create(t, "doc-1", 1)
	f.create(t, "doc-2", 2)

	_, err := f.hub.NewDocumentFeed("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	feed, err := f.hub.NewDocumentFeed(doc.ID)
	require.NoError(t, err)
	d := nextOf[DocumentDetail](t, feed, MsgDocumentDetail)
	assert.Equal(t, doc.ID, d.Document.ID)

	_, err = f.store.Update(context.Background(), "doc-2", store.AnyRevision, func(d *store.Document) error {
		d.Seen = true
		return nil
	})
	require.NoError(t, err)
	quiet(t, feed)

	_, err = f.engine.Advance(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	for {
		dd := find[DocumentDetail](t, feed, MsgDocumentDetail)
		if dd.Document.Status == store.StatusCompleted {
			break
		}
	}

	f.hub.Handle(context.Background(), feed, Request{Type: ReqSetPage, Page: intPtr(1)})
	assert.Equal(t, CodeInvalidRequest, find[ErrorMessage](t, feed, MsgError).Code)

	f.hub.Handle(context.Background(), feed, Request{Type: ReqGetDocument})
	assert.Equal(t, doc.ID, find[DocumentDetail](t, feed, MsgDocumentDetail).Document.ID)
}

func TestHub_SlowObserverDropsOldest(t *testing.T) {
	f := newFixture(t, Config{OutboxSize: 2})
	sub, _ := subscribe(t, f, 1, 10, true)

	for i := 0; i < 10; i++ {
		f.hub.ProcessingChanged(fmt.Sprintf("doc-%d", i), true, nil)
	}
	assert.Equal(t, 2, sub.Pending())
	assert.Equal(t, uint64(8), sub.Dropped())

	u := nextOf[ProcessingUpdate](t, sub, MsgProcessingUpdate)
	assert.Equal(t, "doc-8", u.DocumentID)
	assert.Equal(t, uint64(8), f.hub.Stats().Dropped)
}

func TestHub_RemoveClosesSubscription(t *testing.T) {
	f := newFixture(t, Config{})
	sub, _ := subscribe(t, f, 1, 10, true)
	require.Equal(t, 1, f.hub.Stats().Subscriptions)

	f.hub.Remove(sub)
	f.hub.Remove(sub)

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, sub.View().State)
	assert.Equal(t, 0, f.hub.Stats().Subscriptions)

	f.create(t, "doc-1", 1)
	quiet(t, sub)
}

func TestStageRef_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want StageRef
		ok   bool
	}{
		{`3`, "3", true},
		{`"base_rate"`, "base_rate", true},
		{`" 2 "`, "2", true},
		{`{}`, "", false},
	}
	for _, tt := range tests {
		var r StageRef
		err := json.Unmarshal([]byte(tt.in), &r)
		if tt.ok {
			assert.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, r)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestDisplayID(t *testing.T) {
	assert.Equal(t, "abc", DisplayID("abc"))
	assert.Equal(t, "89abcdef", DisplayID("01234567-89abcdef"))
}
