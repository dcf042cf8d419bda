package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func serveHub(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/documents", f.hub.ServeDashboard)
	mux.HandleFunc("GET /ws/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.hub.ServeDocument(w, r, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func read[T any](t *testing.T, c *websocket.Conn) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var v T
	require.NoError(t, wsjson.Read(ctx, c, &v))
	return v
}

func write(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, v))
}

type envelope struct {
	Type       string       `json:"type"`
	Code       string       `json:"code"`
	Records    []pageRecord `json:"records"`
	Pagination Pagination   `json:"pagination"`
}

func TestConn_DashboardOverWebsocket(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "doc-1", 1)
	srv := serveHub(t, f)

	c := dial(t, srv, "/ws/documents")
	write(t, c, map[string]any{"type": "subscribe", "page": 1, "page_size": 5, "live_mode": true})

	first := read[envelope](t, c)
	assert.Equal(t, MsgDataUpdate, first.Type)
	assert.Len(t, first.Records, 1)

	f.create(t, "doc-2", 2)
	pushed := read[envelope](t, c)
	assert.Equal(t, MsgDataUpdate, pushed.Type)
	assert.Equal(t, 2, pushed.Pagination.TotalCount)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	bad := read[envelope](t, c)
	assert.Equal(t, MsgError, bad.Type)
	assert.Equal(t, CodeInvalidRequest, bad.Code)
}

func TestConn_DocumentFeed(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "doc-1", 1)
	srv := serveHub(t, f)

	c := dial(t, srv, "/ws/documents/doc-1")
	d := read[DocumentDetail](t, c)
	assert.Equal(t, MsgDocumentDetail, d.Type)
	assert.Equal(t, "doc-1", d.Document.ID)

	resp, err := http.Get(srv.URL + "/ws/documents/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConn_ClosedConnectionIsRemoved(t *testing.T) {
	f := newFixture(t, Config{})
	srv := serveHub(t, f)

	c := dial(t, srv, "/ws/documents")
	write(t, c, map[string]any{"type": "subscribe"})
	read[envelope](t, c)
	require.Equal(t, 1, f.hub.Stats().Subscriptions)

	c.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return f.hub.Stats().Subscriptions == 0 }, 2*time.Second, 10*time.Millisecond)
}
