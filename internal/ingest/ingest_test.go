package ingest

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/underwrite/internal/blob"
	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/store"
)

type fakeQueue struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (q *fakeQueue) Advance(id string, from int, done engine.DoneFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, id)
	return nil
}

func newService(t *testing.T, q Queue) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{StageCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Config{Store: st, Blobs: blobs, Queue: q})
	if err != nil {
		t.Fatal(err)
	}
	return svc, st
}

func TestIngest(t *testing.T) {
	q := &fakeQueue{}
	svc, st := newService(t, q)

	doc, err := svc.Ingest(context.Background(), Request{Body: "Please quote GL for Acme."})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if doc.Metadata.Subject != DefaultSubject || doc.Metadata.Sender != DefaultSender {
		t.Errorf("defaults not applied: %+v", doc.Metadata)
	}
	if doc.Metadata.Recipient != store.DefaultRecipient {
		t.Errorf("recipient = %q", doc.Metadata.Recipient)
	}
	if doc.Status != store.StatusPending {
		t.Errorf("status = %s", doc.Status)
	}
	if len(q.calls) != 1 || q.calls[0] != doc.ID {
		t.Errorf("queued = %v", q.calls)
	}
	if _, err := st.Get(doc.ID); err != nil {
		t.Errorf("document not stored: %v", err)
	}
}

func TestIngest_Errors(t *testing.T) {
	t.Run("missing body", func(t *testing.T) {
		svc, _ := newService(t, nil)
		if _, err := svc.Ingest(context.Background(), Request{Subject: "hi", Body: "  "}); !errors.Is(err, ErrMissingBody) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("queue full keeps the document", func(t *testing.T) {
		svc, st := newService(t, &fakeQueue{err: errors.New("worker queue full")})
		doc, err := svc.Ingest(context.Background(), Request{Body: "x"})
		if err == nil {
			t.Fatal("expected queue error")
		}
		if _, gerr := st.Get(doc.ID); gerr != nil {
			t.Errorf("document dropped: %v", gerr)
		}
	})

	t.Run("broken pdf", func(t *testing.T) {
		svc, st := newService(t, nil)
		_, err := svc.Ingest(context.Background(), Request{
			Body:        "see attached",
			Attachments: []File{{Name: "loss-runs.pdf", Data: []byte("%PDF-1.4 truncated")}},
		})
		if !errors.Is(err, ErrInvalidAttachment) {
			t.Fatalf("err = %v, want ErrInvalidAttachment", err)
		}
		if n := st.Snapshot().Len(); n != 0 {
			t.Errorf("%d documents created", n)
		}
	})
}

func TestIngest_Attachments(t *testing.T) {
	svc, _ := newService(t, nil)
	svc.newID = func() string { return "doc-1" }

	doc, err := svc.Ingest(context.Background(), Request{
		Body: "see attached",
		Attachments: []File{
			{Name: `C:\Users\dana\schedule.csv`, ContentType: "text/csv", Data: []byte("unit,value\n1,20000\n")},
		},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	atts := doc.Metadata.Attachments
	if len(atts) != 1 {
		t.Fatalf("attachments = %+v", atts)
	}
	a := atts[0]
	if a.Name != "schedule.csv" || a.Size != 19 || a.Pages != 0 {
		t.Errorf("attachment = %+v", a)
	}
	if !strings.HasSuffix(a.URI, "doc-1/schedule.csv") {
		t.Errorf("URI = %s", a.URI)
	}
}

func TestParseUpload(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		body := `{"name": "Quote request", "sender": "dana@reyes.example", "email": "Need GL"}`
		r := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		req, err := ParseUpload(httptest.NewRecorder(), r, 0)
		if err != nil {
			t.Fatalf("ParseUpload() error = %v", err)
		}
		if req.Subject != "Quote request" || req.Sender != "dana@reyes.example" || req.Body != "Need GL" {
			t.Errorf("request = %+v", req)
		}
		if req.ReceivedAt.IsZero() {
			t.Error("received time not set")
		}
	})

	t.Run("too large", func(t *testing.T) {
		body := `{"email": "` + strings.Repeat("x", 200) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
		if _, err := ParseUpload(httptest.NewRecorder(), r, 64); !errors.Is(err, ErrTooLarge) {
			t.Errorf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("{not json"))
		if _, err := ParseUpload(httptest.NewRecorder(), r, 0); !errors.Is(err, ErrInvalidUpload) {
			t.Errorf("err = %v, want ErrInvalidUpload", err)
		}
	})

	t.Run("multipart", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", "email.json")
		fw.Write([]byte(`{"name": "Fleet quote", "email": "25 trucks"}`))
		aw, _ := mw.CreateFormFile("attachments", "notes.txt")
		aw.Write([]byte("driver list"))
		mw.Close()

		r := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
		r.Header.Set("Content-Type", mw.FormDataContentType())

		req, err := ParseUpload(httptest.NewRecorder(), r, 0)
		if err != nil {
			t.Fatalf("ParseUpload() error = %v", err)
		}
		if req.Subject != "Fleet quote" || req.Body != "25 trucks" {
			t.Errorf("request = %+v", req)
		}
		if len(req.Attachments) != 1 || req.Attachments[0].Name != "notes.txt" || string(req.Attachments[0].Data) != "driver list" {
			t.Errorf("attachments = %+v", req.Attachments)
		}
	})
}

func TestEvents(t *testing.T) {
	e, err := NewEvent("//storage.googleapis.com/inbox", EmailEvent{
		Sender:  "dana@reyes.example",
		Subject: "Quote",
		Body:    "Need GL",
	})
	if err != nil {
		t.Fatal(err)
	}

	req, err := FromEvent(e)
	if err != nil {
		t.Fatalf("FromEvent() error = %v", err)
	}
	if req.Body != "Need GL" || req.ReceivedAt.IsZero() {
		t.Errorf("request = %+v", req)
	}

	e.SetType("com.example.other")
	if _, err := FromEvent(e); !errors.Is(err, ErrInvalidUpload) {
		t.Errorf("wrong type err = %v", err)
	}
}

func TestParseEvent_Binary(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"sender": "a@b.example", "subject": "Quote", "body": "Need GL"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Ce-Specversion", "1.0")
	r.Header.Set("Ce-Id", "evt-1")
	r.Header.Set("Ce-Source", "test")
	r.Header.Set("Ce-Type", EmailReceivedType)

	req, err := ParseEvent(httptest.NewRecorder(), r, 0)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if req.Sender != "a@b.example" || req.Subject != "Quote" {
		t.Errorf("request = %+v", req)
	}
}
