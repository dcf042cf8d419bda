// Package fsstore persists documents in a Cloud Firestore collection.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/jackzampolin/underwrite/internal/store"
)

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "underwriting_documents"

// Config configures the Firestore backend.
type Config struct {
	ProjectID  string
	Collection string
	Logger     *slog.Logger
}

// record is the stored shape: a few queryable fields plus the full
// document as JSON, so schema changes never need a migration.
type record struct {
	Status     string    `firestore:"status"`
	Revision   int64     `firestore:"revision"`
	ReceivedAt time.Time `firestore:"receivedAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
	Payload    string    `firestore:"payload"`
}

// Backend is a store.Backend on Firestore. Document ids are Firestore ids.
type Backend struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New connects to Firestore.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return NewWithClient(client, cfg.Collection, cfg.Logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *firestore.Client, collection string, logger *slog.Logger) *Backend {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		client:     client,
		collection: collection,
		logger:     logger.With("backend", "firestore", "collection", collection),
	}
}

func (b *Backend) LoadAll(ctx context.Context) ([]store.Document, error) {
	snaps, err := b.client.Collection(b.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.collection, err)
	}

	docs := make([]store.Document, 0, len(snaps))
	for _, snap := range snaps {
		var rec record
		if err := snap.DataTo(&rec); err != nil {
			b.logger.Warn("skipping unreadable document", "id", snap.Ref.ID, "error", err)
			continue
		}
		doc, err := decode(rec)
		if err != nil {
			b.logger.Warn("skipping unreadable document", "id", snap.Ref.ID, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (b *Backend) Save(ctx context.Context, doc store.Document) error {
	rec, err := encode(doc)
	if err != nil {
		return err
	}
	if _, err := b.client.Collection(b.collection).Doc(doc.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("set %s/%s: %w", b.collection, doc.ID, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func encode(doc store.Document) (record, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return record{}, fmt.Errorf("encode document: %w", err)
	}
	return record{
		Status:     string(doc.Status),
		Revision:   doc.Revision,
		ReceivedAt: doc.Metadata.ReceivedAt,
		UpdatedAt:  doc.UpdatedAt,
		Payload:    string(payload),
	}, nil
}

func decode(rec record) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(rec.Payload), &doc); err != nil {
		return store.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
