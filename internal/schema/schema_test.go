package schema

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/underwrite/internal/defra"
)

func TestAll(t *testing.T) {
	schemas, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("got %d schemas, want 2", len(schemas))
	}
	for _, s := range schemas {
		if !strings.Contains(s.SDL, "type "+s.Name+" {") {
			t.Errorf("%s SDL does not declare its type:\n%s", s.Name, s.SDL)
		}
	}
	if schemas[0].Name != Document {
		t.Errorf("first schema = %s, want %s", schemas[0].Name, Document)
	}
}

func TestGet(t *testing.T) {
	s, err := Get(StageMetric)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", StageMetric, err)
	}
	if !strings.Contains(s.SDL, "duration_ms") {
		t.Error("StageMetric SDL missing duration_ms")
	}

	if _, err := Get("NonExistent"); err == nil {
		t.Error("expected error for non-existent schema")
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"added", http.StatusOK, "", false},
		{"already exists", http.StatusBadRequest, "collection already exists. Name: UnderwritingDocument", false},
		{"syntax error", http.StatusBadRequest, "invalid schema syntax", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var applied []string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v0/schema" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				b, _ := io.ReadAll(r.Body)
				applied = append(applied, string(b))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := Initialize(context.Background(), defra.NewClient(server.URL), slog.Default())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(applied) != 2 {
				t.Errorf("applied %d schemas, want 2", len(applied))
			}
		})
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("collection already exists. Name: StageMetric"), true},
		{errors.New("invalid syntax"), false},
	}
	for _, tt := range tests {
		if got := isAlreadyExistsError(tt.err); got != tt.want {
			t.Errorf("isAlreadyExistsError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
