package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/documents":
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", r.Header.Get("Content-Type"))
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "doc-1", "subject": body["name"]})
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "draining"})
		case "/bad":
			http.Error(w, "nope", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	var out struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
	}
	if err := c.Post(ctx, "/api/documents", map[string]string{"name": "Quote"}, &out); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out.ID != "doc-1" || out.Subject != "Quote" {
		t.Errorf("out = %+v", out)
	}

	err := c.Get(ctx, "/busy", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || se.Message != "draining" || !se.Temporary() {
		t.Errorf("busy err = %#v", err)
	}

	err = c.Get(ctx, "/bad", nil)
	if !errors.As(err, &se) || se.Temporary() || !strings.Contains(se.Message, "nope") {
		t.Errorf("bad err = %#v", err)
	}
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"status": "completed", "revision": 3}

	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"revision": 3`) {
		t.Errorf("json = %s", buf.String())
	}

	buf.Reset()
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "status: completed") {
		t.Errorf("yaml = %s", buf.String())
	}

	if err := OutputTo(&buf, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}
}
