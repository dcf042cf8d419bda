// Package defrastore persists documents in a DefraDB collection.
package defrastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/schema"
	"github.com/jackzampolin/underwrite/internal/store"
)

// pageSize bounds each LoadAll query.
const pageSize = 500

// Backend stores each document as one UnderwritingDocument row: indexed
// columns for the fields worth filtering on plus the full record as JSON.
type Backend struct {
	client *defra.Client
	logger *slog.Logger
}

// New returns a backend using client. The collection schema must already be
// applied (see schema.Initialize).
func New(client *defra.Client, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: client, logger: logger.With("backend", "defra")}
}

var _ store.Backend = (*Backend)(nil)

// LoadAll reads every stored document.
func (b *Backend) LoadAll(ctx context.Context) ([]store.Document, error) {
	var docs []store.Document
	for offset := 0; ; offset += pageSize {
		resp, err := defra.NewQuery(schema.Document).
			Fields("doc_id", "payload").
			OrderBy("doc_id", "ASC").
			Limit(pageSize).
			Offset(offset).
			Execute(ctx, b.client)
		if err != nil {
			return nil, err
		}
		if msg := resp.Error(); msg != "" {
			return nil, fmt.Errorf("query %s: %s", schema.Document, msg)
		}

		rows := resp.Rows(schema.Document)
		for _, row := range rows {
			payload, _ := row["payload"].(string)
			var doc store.Document
			if err := json.Unmarshal([]byte(payload), &doc); err != nil {
				b.logger.Warn("skipping unreadable document", "doc_id", row["doc_id"], "error", err)
				continue
			}
			docs = append(docs, doc)
		}
		if len(rows) < pageSize {
			return docs, nil
		}
	}
}

// Save upserts doc by its id.
func (b *Backend) Save(ctx context.Context, doc store.Document) error {
	if err := defra.ValidateID(doc.ID); err != nil {
		return fmt.Errorf("document id %q: %w", doc.ID, err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	row := map[string]any{
		"status":        string(doc.Status),
		"revision":      doc.Revision,
		"current_stage": doc.CurrentStage,
		"received_at":   doc.Metadata.ReceivedAt,
		"updated_at":    doc.UpdatedAt,
		"payload":       string(payload),
	}
	create := map[string]any{"doc_id": doc.ID}
	for k, v := range row {
		create[k] = v
	}

	_, err = b.client.Upsert(ctx, schema.Document,
		map[string]any{"doc_id": map[string]any{"_eq": doc.ID}},
		create, row)
	return err
}

// Close is a no-op; the client holds no resources.
func (b *Backend) Close() error { return nil }
