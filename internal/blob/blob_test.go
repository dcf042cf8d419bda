package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		parts   []string
		want    string
		wantErr bool
	}{
		{parts: []string{"doc-1", "quote.pdf"}, want: "doc-1/quote.pdf"},
		{parts: []string{"", "doc-1", "a/../b.pdf"}, want: "doc-1/b.pdf"},
		{parts: []string{"doc-1", "../../etc/passwd"}, wantErr: true},
		{parts: []string{"/abs"}, wantErr: true},
		{parts: []string{""}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := Key(tt.parts...)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Key(%q) error = %v, want ErrInvalidKey", tt.parts, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Key(%q) = %q, %v; want %q", tt.parts, got, err, tt.want)
		}
	}
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	uri, err := l.Put(ctx, "doc-1/quote.pdf", strings.NewReader("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "doc-1/quote.pdf") {
		t.Errorf("uri = %s", uri)
	}

	_, err = l.Put(ctx, "doc-1/quote.pdf", strings.NewReader("other"), "")
	if !errors.Is(err, ErrExists) {
		t.Errorf("second Put() error = %v, want ErrExists", err)
	}

	rc, err := l.Open(ctx, "doc-1/quote.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.4" {
		t.Errorf("content = %q, first write should win", data)
	}

	if _, err := l.Open(ctx, "doc-2/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := l.Put(ctx, "../escape", strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put(../escape) error = %v", err)
	}
}
