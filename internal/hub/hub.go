// Package hub keeps observers in sync with the document store. Each
// observer connection is a Subscription with its own page, page size and
// live/frozen mode. Store changes are coalesced and fanned out by one
// dispatcher goroutine, and every connection has a bounded outbox, so
// document processing never waits on a slow observer.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Sentinel errors for the hub package.
var (
	ErrClosed       = errors.New("subscription closed")
	ErrBadRequest   = errors.New("bad request")
	ErrNoController = errors.New("document controller not attached")
)

const (
	DefaultOutboxSize  = 64
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

// Config configures a Hub.
type Config struct {
	Store *store.Store

	// Project renders a document as a dashboard record. Default DefaultProject.
	Project func(store.Document) any

	OutboxSize      int
	DefaultPageSize int
	MaxPageSize     int

	// AllowedOrigins are websocket origin patterns accepted besides the
	// request's own host.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Hub owns every subscription.
type Hub struct {
	store   *store.Store
	project func(store.Document) any
	origins []string
	logger  *slog.Logger

	outboxSize  int
	defaultSize atomic.Int64
	maxSize     int

	runner atomic.Pointer[engine.Runner]

	mu   sync.RWMutex
	subs map[string]*Subscription

	// Latest unprocessed change, coalesced.
	pendMu   sync.Mutex
	pendSnap *store.Snapshot
	pendDocs map[string]struct{}
	signal   chan struct{}

	unwatch func()

	retiredSent    atomic.Uint64
	retiredDropped atomic.Uint64
}

// Stats reports hub activity.
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	Dashboards    int    `json:"dashboards"`
	Documents     int    `json:"documents"`
	Sent          uint64 `json:"sent"`
	Dropped       uint64 `json:"dropped"`
}

// New creates a hub and registers it as a store watcher. Run must be called
// for store changes to reach subscribers.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Project == nil {
		cfg.Project = DefaultProject
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = DefaultMaxPageSize
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}

	h := &Hub{
		store:      cfg.Store,
		project:    cfg.Project,
		origins:    cfg.AllowedOrigins,
		logger:     logger.With("component", "hub"),
		outboxSize: cfg.OutboxSize,
		maxSize:    cfg.MaxPageSize,
		subs:       make(map[string]*Subscription),
		pendDocs:   make(map[string]struct{}),
		signal:     make(chan struct{}, 1),
	}
	h.defaultSize.Store(int64(min(cfg.DefaultPageSize, cfg.MaxPageSize)))
	h.unwatch = cfg.Store.Watch(h.onChange)
	return h
}

// Attach gives the hub the runner it uses for edit, rerun and continue
// requests. The engine is usually built with the hub as its notifier, so
// this happens after construction.
func (h *Hub) Attach(r *engine.Runner) {
	h.runner.Store(r)
}

// SetDefaultPageSize changes the page size used by later subscriptions.
func (h *Hub) SetDefaultPageSize(n int) {
	if n > 0 {
		h.defaultSize.Store(int64(min(n, h.maxSize)))
	}
}

// Run dispatches store changes until ctx is cancelled, then closes every
// subscription.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("hub started")
	defer h.unwatch()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return nil
		case <-h.signal:
			h.dispatch()
		}
	}
}

// onChange runs on the store writer's goroutine. It only records the change.
func (h *Hub) onChange(c store.Change) {
	h.pendMu.Lock()
	if h.pendSnap == nil || c.Snapshot.Version() > h.pendSnap.Version() {
		h.pendSnap = c.Snapshot
	}
	h.pendDocs[c.Document.ID] = struct{}{}
	h.pendMu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *Hub) dispatch() {
	h.pendMu.Lock()
	snap, docs := h.pendSnap, h.pendDocs
	h.pendSnap, h.pendDocs = nil, make(map[string]struct{})
	h.pendMu.Unlock()
	if snap == nil {
		return
	}

	for _, sub := range h.subscriptions() {
		if !sub.unsolicited() {
			continue
		}
		switch sub.Kind {
		case KindDashboard:
			h.pushPage(sub, snap, false)
		case KindDocument:
			if _, ok := docs[sub.DocumentID]; ok {
				h.pushDetail(sub, snap)
			}
		}
	}
}

// ProcessingChanged implements engine.Notifier.
func (h *Hub) ProcessingChanged(id string, processing bool, err error) {
	u := ProcessingUpdate{Type: MsgProcessingUpdate, DocumentID: id, Processing: processing}
	if err != nil {
		u.Error = err.Error()
	}
	m, encErr := encode(MsgProcessingUpdate, u)
	if encErr != nil {
		return
	}

	for _, sub := range h.subscriptions() {
		if !sub.unsolicited() {
			continue
		}
		if sub.Kind == KindDocument && sub.DocumentID != id {
			continue
		}
		sub.send(m)
	}
}

// NewDashboard registers a dashboard subscription. It stays Connecting, and
// receives nothing, until the client subscribes.
func (h *Hub) NewDashboard() *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		Kind:     KindDashboard,
		out:      newOutbox(h.outboxSize),
		page:     1,
		pageSize: int(h.defaultSize.Load()),
		live:     true,
	}
	h.add(sub)
	return sub
}

// NewDocumentFeed registers a feed for one document. It is active at once
// and starts with the document's current detail.
func (h *Hub) NewDocumentFeed(id string) (*Subscription, error) {
	if _, err := h.store.Get(id); err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:         uuid.NewString(),
		Kind:       KindDocument,
		DocumentID: id,
		out:        newOutbox(h.outboxSize),
		state:      StateActive,
	}
	h.add(sub)
	h.pushDetail(sub, h.store.Snapshot())
	return sub, nil
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("subscription opened", "subscription", sub.ID, "kind", sub.Kind, "total", n)
}

// Remove closes sub and forgets it.
func (h *Hub) Remove(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	sub.state = StateClosed
	sub.mu.Unlock()
	sub.out.close()

	h.retiredSent.Add(sub.Sent())
	h.retiredDropped.Add(sub.Dropped())
	h.logger.Debug("subscription closed", "subscription", sub.ID, "sent", sub.Sent(), "dropped", sub.Dropped())
}

func (h *Hub) closeAll() {
	for _, sub := range h.subscriptions() {
		h.Remove(sub)
	}
}

func (h *Hub) subscriptions() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	st := Stats{
		Sent:    h.retiredSent.Load(),
		Dropped: h.retiredDropped.Load(),
	}
	for _, sub := range h.subscriptions() {
		st.Subscriptions++
		if sub.Kind == KindDocument {
			st.Documents++
		} else {
			st.Dashboards++
		}
		st.Sent += sub.Sent()
		st.Dropped += sub.Dropped()
	}
	return st
}

// pushPage renders sub's page against snap. Unless force is set the page is
// only sent when it differs from the last page sent to sub.
func (h *Hub) pushPage(sub *Subscription, snap *store.Snapshot, force bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.state == StateClosed {
		return
	}

	page, err := snap.Page(sub.page, sub.pageSize)
	if err != nil {
		h.logger.Warn("page failed", "subscription", sub.ID, "error", err)
		return
	}

	records := make([]any, len(page.Records))
	for i, doc := range page.Records {
		records[i] = h.project(doc)
	}
	m, err := encode(MsgDataUpdate, DataUpdate{
		Type:    MsgDataUpdate,
		Records: records,
		Pagination: Pagination{
			Page:       page.Page,
			PageSize:   page.PageSize,
			TotalPages: page.TotalPages,
			TotalCount: page.TotalCount,
		},
		LiveMode: sub.live,
	})
	if err != nil {
		h.logger.Error("encode page failed", "subscription", sub.ID, "error", err)
		return
	}

	sum := xxhash.Sum64(m.Body)
	if !force && sub.hashed && sum == sub.lastHash {
		return
	}
	sub.lastHash, sub.hashed = sum, true
	sub.send(m)
}

func (h *Hub) pushDetail(sub *Subscription, snap *store.Snapshot) {
	doc, ok := snap.Get(sub.DocumentID)
	if !ok {
		return
	}
	m, err := encode(MsgDocumentDetail, DocumentDetail{Type: MsgDocumentDetail, Document: doc})
	if err != nil {
		h.logger.Error("encode document failed", "document_id", doc.ID, "error", err)
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sum := xxhash.Sum64(m.Body)
	if sub.hashed && sum == sub.lastHash {
		return
	}
	sub.lastHash, sub.hashed = sum, true
	sub.send(m)
}

func (h *Hub) reply(sub *Subscription, typ string, v any) {
	m, err := encode(typ, v)
	if err != nil {
		h.logger.Error("encode reply failed", "type", typ, "error", err)
		return
	}
	sub.send(m)
}

func (h *Hub) replyError(sub *Subscription, requestID string, err error) {
	code := ErrorCode(err)
	if code == CodeInternal {
		h.logger.Error("request failed", "subscription", sub.ID, "request_id", requestID, "error", err)
	}
	h.reply(sub, MsgError, ErrorMessage{
		Type:      MsgError,
		RequestID: requestID,
		Code:      code,
		Message:   err.Error(),
	})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
