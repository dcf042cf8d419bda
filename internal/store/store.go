// Package store holds every document record and publishes immutable
// snapshots of them. All mutation goes through Update, a per-document
// transactional read-modify-write guarded by the document's revision.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/underwrite/internal/keylock"
)

// AnyRevision disables the revision check in Update.
const AnyRevision int64 = -1

// Backend persists documents so they survive a restart.
type Backend interface {
	LoadAll(ctx context.Context) ([]Document, error)
	Save(ctx context.Context, doc Document) error
	Close() error
}

// Change is delivered to watchers after a document is installed.
type Change struct {
	Document Document
	Snapshot *Snapshot
}

// Config configures a Store.
type Config struct {
	// StageCount is the number of stage slots every document carries.
	StageCount int
	// Backend is optional; without one the store is process-local.
	Backend Backend
	Logger  *slog.Logger
}

// Store is the document record store.
type Store struct {
	stageCount int
	backend    Backend
	logger     *slog.Logger

	locks *keylock.Map

	// installMu orders snapshot installs and watcher notification.
	installMu sync.Mutex
	snap      atomic.Pointer[Snapshot]

	watchMu   sync.RWMutex
	watchers  map[int]func(Change)
	nextWatch int

	now func() time.Time
}

// New creates an empty store.
func New(cfg Config) (*Store, error) {
	if cfg.StageCount < 1 {
		return nil, fmt.Errorf("stage count must be >= 1, got %d", cfg.StageCount)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		stageCount: cfg.StageCount,
		backend:    cfg.Backend,
		logger:     logger,
		locks:      keylock.New(),
		watchers:   make(map[int]func(Change)),
		now:        time.Now,
	}
	s.snap.Store(emptySnapshot())
	return s, nil
}

// StageCount returns the number of stage slots per document.
func (s *Store) StageCount() int {
	return s.stageCount
}

// Load restores documents from the backend. Documents that were mid-run when
// the process stopped are reset to pending. The returned ids are the
// documents that should be resumed: those reset here and fresh documents
// that never started.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	if s.backend == nil {
		return nil, nil
	}

	docs, err := s.backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	var resume []string
	snap := emptySnapshot()
	for _, doc := range docs {
		doc.normalize(s.stageCount)

		switch {
		case doc.Status == StatusProcessing:
			doc.Status = StatusPending
			doc.ProcessingEndedAt = nil
			if err := s.backend.Save(ctx, doc); err != nil {
				return nil, fmt.Errorf("reset %s: %w", doc.ID, err)
			}
			resume = append(resume, doc.ID)
		case doc.Status == StatusPending && doc.FirstUndefined() == 0:
			resume = append(resume, doc.ID)
		}

		snap = snap.with(doc)
	}

	s.installMu.Lock()
	s.snap.Store(snap)
	s.installMu.Unlock()

	s.logger.Info("documents loaded", "count", len(docs), "resume", len(resume))
	return resume, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Get returns a copy of the document with id.
func (s *Store) Get(id string) (Document, error) {
	doc, ok := s.snap.Load().Get(id)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

// Create inserts a new document with revision 0 and no stage outputs.
func (s *Store) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}

	unlock, err := s.locks.Lock(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	if _, ok := s.snap.Load().byID[doc.ID]; ok {
		return Document{}, fmt.Errorf("%w: %s", ErrExists, doc.ID)
	}

	doc = doc.Clone()
	now := s.now().UTC()
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.Metadata.Recipient == "" {
		doc.Metadata.Recipient = DefaultRecipient
	}
	if doc.Metadata.ReceivedAt.IsZero() {
		doc.Metadata.ReceivedAt = now
	}
	doc.Stages = nil
	doc.CurrentStage = 0
	doc.Revision = 0
	doc.normalize(s.stageCount)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.save(ctx, doc); err != nil {
		return Document{}, err
	}
	s.install(doc)
	return doc.Clone(), nil
}

// Update applies fn to a private copy of the document and installs the
// result atomically. Updates to one document are serialized. When
// expectedRevision is not AnyRevision it must equal the current revision.
// If fn returns an error nothing is changed.
func (s *Store) Update(ctx context.Context, id string, expectedRevision int64, fn func(*Document) error) (Document, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	i, ok := s.snap.Load().byID[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := s.snap.Load().docs[i]

	if expectedRevision != AnyRevision && cur.Revision != expectedRevision {
		return Document{}, &ConflictError{Expected: expectedRevision, Current: cur.Revision}
	}

	doc := cur.Clone()
	if err := fn(&doc); err != nil {
		return Document{}, err
	}
	doc.ID = cur.ID
	doc.normalize(s.stageCount)
	doc.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, doc); err != nil {
		return Document{}, err
	}
	s.install(doc)
	return doc.Clone(), nil
}

// Force applies fn and installs the result without writing to the backend.
// It exists for recording how a run ended after the backend has refused the
// write: observers see the outcome at once, and the backend catches up on
// the next successful Update of the document.
func (s *Store) Force(id string, fn func(*Document)) (Document, error) {
	unlock, err := s.locks.Lock(context.Background(), id)
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	cur, ok := s.snap.Load().Get(id)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc := cur
	fn(&doc)
	doc.ID = cur.ID
	doc.normalize(s.stageCount)
	doc.UpdatedAt = s.now().UTC()

	s.logger.Warn("document state not persisted", "document_id", id, "status", doc.Status)
	s.install(doc)
	return doc.Clone(), nil
}

// Watch registers fn to be called after every installed change. fn runs on
// the writer's goroutine and must not block. The returned func unregisters.
func (s *Store) Watch(fn func(Change)) func() {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) save(ctx context.Context, doc Document) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Save(ctx, doc); err != nil {
		return fmt.Errorf("persist %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) install(doc Document) {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	doc = doc.Clone()
	snap := s.snap.Load().with(doc)
	s.snap.Store(snap)

	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, fn := range s.watchers {
		fn(Change{Document: doc.Clone(), Snapshot: snap})
	}
}
