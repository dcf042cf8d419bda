package defra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func countingServer(t *testing.T, creates *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		json.NewEncoder(w).Encode(GQLResponse{Data: map[string]any{
			"create_StageMetric": []any{map[string]any{"_docID": "bae-1"}},
		}})
	}))
}

func TestSink_FlushWritesQueuedOps(t *testing.T) {
	var creates atomic.Int32
	server := countingServer(t, &creates)
	defer server.Close()

	sink := NewSink(SinkConfig{Client: NewClient(server.URL), BatchSize: 100, FlushInterval: time.Hour})
	sink.Start(context.Background())
	defer sink.Stop()

	for i := 0; i < 5; i++ {
		if err := sink.Send(WriteOp{Collection: "StageMetric", Document: map[string]any{"i": i}}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := creates.Load(); got != 5 {
		t.Errorf("creates = %d, want 5", got)
	}
}

func TestSink_BatchBySize(t *testing.T) {
	var creates atomic.Int32
	server := countingServer(t, &creates)
	defer server.Close()

	sink := NewSink(SinkConfig{Client: NewClient(server.URL), BatchSize: 3, FlushInterval: time.Hour})
	sink.Start(context.Background())
	defer sink.Stop()

	for i := 0; i < 3; i++ {
		sink.Send(WriteOp{Collection: "StageMetric", Document: map[string]any{"i": i}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for creates.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := creates.Load(); got != 3 {
		t.Errorf("creates = %d, want 3 after a full batch", got)
	}
}

func TestSink_StopDrainsAndRejects(t *testing.T) {
	var creates atomic.Int32
	server := countingServer(t, &creates)
	defer server.Close()

	sink := NewSink(SinkConfig{Client: NewClient(server.URL), BatchSize: 100, FlushInterval: time.Hour})
	sink.Start(context.Background())

	sink.Send(WriteOp{Collection: "StageMetric", Document: map[string]any{"i": 1}})
	sink.Send(WriteOp{Collection: "StageMetric", Document: map[string]any{"i": 2}})
	sink.Stop()
	sink.Stop() // idempotent

	if got := creates.Load(); got != 2 {
		t.Errorf("creates = %d, want 2 after graceful stop", got)
	}
	if err := sink.Send(WriteOp{Collection: "StageMetric"}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Send after Stop = %v, want ErrSinkClosed", err)
	}
}
