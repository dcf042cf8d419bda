package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/blob"
	"github.com/jackzampolin/underwrite/internal/ingest"
)

func finalizeEvent(t *testing.T, name string) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/inbox")
	e.SetType("google.cloud.storage.object.v1.finalized")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, GCSEvent{Bucket: "inbox", Name: name}))
	return e
}

func objects(files map[string]string) OpenFunc {
	return func(_ context.Context, bucket, name string) (io.ReadCloser, error) {
		body, ok := files[bucket+"/"+name]
		if !ok {
			return nil, blob.ErrNotFound
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func TestRelay_Forwards(t *testing.T) {
	var posted atomic.Int32
	var got ingest.Upload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posted.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Created{ID: "doc-1", Status: "pending"})
	}))
	defer srv.Close()

	r, err := New(Config{
		Client: api.NewClient(srv.URL),
		Open:   objects(map[string]string{"inbox/mail/1.json": `{"name": "Quote", "sender": "a@b.example", "email": "Need GL"}`}),
		Delay:  time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, r.Handle(context.Background(), finalizeEvent(t, "mail/1.json")))
	assert.Equal(t, int32(2), posted.Load(), "503 should be retried")
	assert.Equal(t, "Need GL", got.Email)
	assert.Equal(t, "Quote", got.Name)
}

func TestRelay_Drops(t *testing.T) {
	var posted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted.Add(1)
		http.Error(w, `{"error": "email content missing"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r, err := New(Config{
		Client: api.NewClient(srv.URL),
		Open: objects(map[string]string{
			"inbox/bad.json":   `{not json`,
			"inbox/empty.json": `{"name": "x"}`,
		}),
		Delay: time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, r.Handle(ctx, finalizeEvent(t, "scan.pdf")))
	assert.NoError(t, r.Handle(ctx, finalizeEvent(t, "gone.json")))
	assert.NoError(t, r.Handle(ctx, finalizeEvent(t, "bad.json")))
	assert.Equal(t, int32(0), posted.Load())

	assert.NoError(t, r.Handle(ctx, finalizeEvent(t, "empty.json")))
	assert.Equal(t, int32(1), posted.Load(), "4xx must not be retried")
}

func TestRelay_ReturnsTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := New(Config{
		Client:   api.NewClient(srv.URL),
		Open:     objects(map[string]string{"inbox/1.json": `{"email": "x"}`}),
		Attempts: 2,
		Delay:    time.Millisecond,
	})
	require.NoError(t, err)

	err = r.Handle(context.Background(), finalizeEvent(t, "1.json"))
	var se *api.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Client: api.NewClient("http://x")})
	assert.Error(t, err)
}
