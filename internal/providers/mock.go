package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing and offline runs.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	Err          error
	ResponseText string

	// Respond, when set, produces the reply for each round trip and wins
	// over ResponseText.
	Respond func(req *ChatRequest, msgs []Message) (string, error)

	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat answers req with the configured behavior. Structured requests are
// validated like real providers, including repair round trips.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	res := &ChatResult{
		Provider:  MockClientName,
		ModelUsed: req.Model,
		RequestID: req.RequestID,
		CostUSD:   0.001,
	}
	err := complete(ctx, req, res, func(ctx context.Context, msgs []Message) (string, int, int, error) {
		count := c.requestCount.Add(1)
		switch {
		case c.Err != nil:
			return "", 0, 0, c.Err
		case c.ShouldFail:
			return "", 0, 0, errors.New("mock client configured to fail")
		case c.FailAfter > 0 && int(count) > c.FailAfter:
			return "", 0, 0, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
		}

		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}

		text := c.ResponseText
		if c.Respond != nil {
			var err error
			if text, err = c.Respond(req, msgs); err != nil {
				return "", 0, 0, err
			}
		}
		prompt := 0
		for _, m := range msgs {
			prompt += len(m.Content) / 4
		}
		return text, prompt, len(text) / 4, nil
	})
	res.ExecutionTime = time.Since(start)
	if err != nil {
		return res, err
	}
	return res, nil
}

// RequestCount returns the number of round trips made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns the requests received so far.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// Reset clears recorded requests.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

var _ LLMClient = (*MockClient)(nil)
