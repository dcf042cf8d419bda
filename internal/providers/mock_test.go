package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model:    "test-model",
			Messages: []Message{User("test")},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 || len(c.Requests()) != 1 {
			t.Errorf("RequestCount = %d, Requests = %d", c.RequestCount(), len(c.Requests()))
		}
	})

	t.Run("structured output", func(t *testing.T) {
		c := NewMockClient()
		c.Respond = func(req *ChatRequest, msgs []Message) (string, error) {
			return `{"level": 1}`, nil
		}
		result, err := c.Chat(context.Background(), &ChatRequest{
			Messages:       []Message{User("test")},
			ResponseFormat: &ResponseFormat{Name: "level", Schema: levelSchema},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		var got struct{ Level int }
		if err := json.Unmarshal(result.ParsedJSON, &got); err != nil || got.Level != 1 {
			t.Errorf("ParsedJSON = %s (%v)", result.ParsedJSON, err)
		}
	})

	t.Run("fail after", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 1
		req := &ChatRequest{Messages: []Message{User("x")}}
		if _, err := c.Chat(context.Background(), req); err != nil {
			t.Fatalf("first request failed: %v", err)
		}
		if _, err := c.Chat(context.Background(), req); err == nil {
			t.Fatal("second request succeeded")
		}
	})

	t.Run("configured error", func(t *testing.T) {
		c := NewMockClient()
		c.Err = transient(errors.New("busy"))
		_, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{User("x")}})
		if !IsTransient(err) {
			t.Fatalf("err = %v, want transient", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := c.Chat(ctx, &ChatRequest{Messages: []Message{User("x")}})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if s := r.Status(); s.TotalConsumed != 2 || s.TokensAvailable != 0 {
		t.Fatalf("status = %+v", s)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on empty bucket = %v, want deadline exceeded", err)
	}

	r.Record429()
	if r.Status().Last429Time.IsZero() {
		t.Error("Record429 not recorded")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("bad request"), false},
		{transient(errors.New("x")), true},
		{classifyStatus(429, errors.New("x")), true},
		{classifyStatus(503, errors.New("x")), true},
		{classifyStatus(401, errors.New("x")), false},
		{context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
