package defrastore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/store"
)

func TestBackend_Save(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		query = req.Query
		json.NewEncoder(w).Encode(defra.GQLResponse{Data: map[string]any{
			"upsert_UnderwritingDocument": []any{map[string]any{"_docID": "bae-1"}},
		}})
	}))
	defer server.Close()

	b := New(defra.NewClient(server.URL), nil)
	doc := store.Document{
		ID:       "3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		Status:   store.StatusCompleted,
		Revision: 10,
		Metadata: store.Metadata{Subject: `quote "urgent"`, ReceivedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	if err := b.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, want := range []string{
		`upsert_UnderwritingDocument(filter: {doc_id: {_eq: "3f2504e0-4f89-11d3-9a0c-0305e82c3301"}}`,
		`revision: 10`,
		`status: "completed"`,
		`received_at: "2024-05-01T00:00:00Z"`,
	} {
		if !strings.Contains(query, want) {
			t.Errorf("mutation missing %q:\n%s", want, query)
		}
	}
}

func TestBackend_SaveRejectsUnsafeID(t *testing.T) {
	b := New(defra.NewClient("http://127.0.0.1:0"), nil)
	if err := b.Save(context.Background(), store.Document{ID: `x"}`}); err == nil {
		t.Error("expected error for unsafe id")
	}
}

func TestBackend_LoadAll(t *testing.T) {
	doc := store.Document{ID: "doc-1", Status: store.StatusPending, Revision: 3}
	payload, _ := json.Marshal(doc)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Query, "UnderwritingDocument(order: {doc_id: ASC}, limit: 500)") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		json.NewEncoder(w).Encode(defra.GQLResponse{Data: map[string]any{
			"UnderwritingDocument": []any{
				map[string]any{"doc_id": "doc-1", "payload": string(payload)},
				map[string]any{"doc_id": "broken", "payload": "{"},
			},
		}})
	}))
	defer server.Close()

	docs, err := New(defra.NewClient(server.URL), nil).LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" || docs[0].Revision != 3 {
		t.Errorf("docs = %+v", docs)
	}
}
