package store

import (
	"slices"
	"strings"
)

// Snapshot is an immutable, ordered view of every document at one instant.
// Documents are ordered by ReceivedAt descending, ties by ID ascending.
type Snapshot struct {
	version uint64
	docs    []Document
	byID    map[string]int
}

// Page is one page of documents computed against a single snapshot.
type Page struct {
	Records    []Document `json:"records"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalCount int        `json:"total_count"`
	TotalPages int        `json:"total_pages"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{byID: map[string]int{}}
}

func compareDocs(a, b *Document) int {
	if c := b.Metadata.ReceivedAt.Compare(a.Metadata.ReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// with returns a new snapshot with doc inserted or replaced. The receiver is
// left untouched.
func (s *Snapshot) with(doc Document) *Snapshot {
	docs := make([]Document, 0, len(s.docs)+1)
	if i, ok := s.byID[doc.ID]; ok {
		if s.docs[i].Metadata.ReceivedAt.Equal(doc.Metadata.ReceivedAt) {
			docs = append(docs, s.docs...)
			docs[i] = doc
			return newSnapshot(s.version+1, docs)
		}
		docs = append(docs, s.docs[:i]...)
		docs = append(docs, s.docs[i+1:]...)
	} else {
		docs = append(docs, s.docs...)
	}

	at, _ := slices.BinarySearchFunc(docs, doc, func(e, target Document) int {
		return compareDocs(&e, &target)
	})
	docs = slices.Insert(docs, at, doc)
	return newSnapshot(s.version+1, docs)
}

func newSnapshot(version uint64, docs []Document) *Snapshot {
	byID := make(map[string]int, len(docs))
	for i := range docs {
		byID[docs[i].ID] = i
	}
	return &Snapshot{version: version, docs: docs, byID: byID}
}

// Version increases with every installed change.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of documents.
func (s *Snapshot) Len() int {
	return len(s.docs)
}

// Get returns a copy of the document with id.
func (s *Snapshot) Get(id string) (Document, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Document{}, false
	}
	return s.docs[i].Clone(), true
}

// Documents returns copies of every document in order.
func (s *Snapshot) Documents() []Document {
	out := make([]Document, len(s.docs))
	for i := range s.docs {
		out[i] = s.docs[i].Clone()
	}
	return out
}

// Page returns the 1-based page of the given size. A page past the end is
// empty; an empty snapshot still reports one total page.
func (s *Snapshot) Page(page, size int) (Page, error) {
	if size < 1 {
		return Page{}, ErrInvalidPageSize
	}
	if page < 1 {
		return Page{}, ErrInvalidPage
	}

	total := len(s.docs)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}

	p := Page{
		Records:    []Document{},
		Page:       page,
		PageSize:   size,
		TotalCount: total,
		TotalPages: pages,
	}

	if page > pages {
		return p, nil
	}
	start := (page - 1) * size
	if start >= total {
		return p, nil
	}
	end := min(start+size, total)

	p.Records = make([]Document, 0, end-start)
	for i := start; i < end; i++ {
		p.Records = append(p.Records, s.docs[i].Clone())
	}
	return p, nil
}
